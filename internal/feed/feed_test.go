package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<md:EntitiesDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
    xmlns:mdui="urn:oasis:names:tc:SAML:metadata:ui"
    xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
  <md:EntityDescriptor entityID="https://sp.example">
    <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
      <md:Extensions>
        <mdui:UIInfo>
          <mdui:DisplayName xml:lang="en">Example SP</mdui:DisplayName>
          <mdui:DisplayName xml:lang="nl">Voorbeeld SP</mdui:DisplayName>
          <mdui:DisplayName xml:lang="de">Beispiel SP</mdui:DisplayName>
          <mdui:Description xml:lang="en">A sample service</mdui:Description>
        </mdui:UIInfo>
      </md:Extensions>
      <md:KeyDescriptor use="signing">
        <ds:KeyInfo><ds:X509Data><ds:X509Certificate>SIGNINGCERT</ds:X509Certificate></ds:X509Data></ds:KeyInfo>
      </md:KeyDescriptor>
      <md:KeyDescriptor use="encryption">
        <ds:KeyInfo><ds:X509Data><ds:X509Certificate>ENCCERT</ds:X509Certificate></ds:X509Data></ds:KeyInfo>
      </md:KeyDescriptor>
      <md:KeyDescriptor>
        <ds:KeyInfo><ds:X509Data><ds:X509Certificate>SECONDCERT</ds:X509Certificate></ds:X509Data></ds:KeyInfo>
      </md:KeyDescriptor>
      <md:NameIDFormat>urn:oasis:names:tc:SAML:2.0:nameid-format:persistent</md:NameIDFormat>
      <md:NameIDFormat>urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified</md:NameIDFormat>
      <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Artifact"
          Location="https://sp.example/acs-artifact" index="1"/>
      <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
          Location="https://sp.example/acs" index="0"/>
    </md:SPSSODescriptor>
    <md:Organization>
      <md:OrganizationName xml:lang="en">Example Org</md:OrganizationName>
      <md:OrganizationDisplayName xml:lang="nl">Voorbeeld Organisatie</md:OrganizationDisplayName>
      <md:OrganizationURL xml:lang="en">https://org.example</md:OrganizationURL>
    </md:Organization>
    <md:ContactPerson contactType="technical">
      <md:GivenName>Tess</md:GivenName>
      <md:SurName>Admin</md:SurName>
      <md:EmailAddress>mailto:tech@example.org</md:EmailAddress>
    </md:ContactPerson>
    <md:ContactPerson contactType="technical">
      <md:EmailAddress>mailto:tech2@example.org</md:EmailAddress>
    </md:ContactPerson>
    <md:ContactPerson contactType="support">
      <md:EmailAddress>mailto:support@example.org</md:EmailAddress>
    </md:ContactPerson>
    <md:ContactPerson contactType="billing">
      <md:EmailAddress>mailto:billing@example.org</md:EmailAddress>
    </md:ContactPerson>
  </md:EntityDescriptor>
  <md:EntityDescriptor entityID="https://idp.example">
    <md:IDPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol"/>
  </md:EntityDescriptor>
  <md:EntitiesDescriptor>
    <md:EntityDescriptor entityID="https://nested.example">
      <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
        <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
            Location="https://nested.example/acs" index="0"/>
      </md:SPSSODescriptor>
    </md:EntityDescriptor>
  </md:EntitiesDescriptor>
</md:EntitiesDescriptor>`

func TestParseFlattensServiceProviders(t *testing.T) {
	entities, err := Parse(strings.NewReader(sampleFeed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("entities = %d, want the two SPs", len(entities))
	}

	sp := entities[0]
	if sp.EntityID != "https://sp.example" {
		t.Fatalf("entityID = %q", sp.EntityID)
	}
	if !sp.Valid() {
		t.Fatalf("sp should be valid")
	}
	fields := sp.MetaDataFields

	// ACS entries come out sorted by index, renumbered from zero
	if fields["AssertionConsumerService:0:Location"] != "https://sp.example/acs" {
		t.Fatalf("acs order wrong: %v", fields["AssertionConsumerService:0:Location"])
	}
	if fields["AssertionConsumerService:0:index"] != float64(0) {
		t.Fatalf("acs index = %v (%T)", fields["AssertionConsumerService:0:index"], fields["AssertionConsumerService:0:index"])
	}
	if fields["AssertionConsumerService:1:Location"] != "https://sp.example/acs-artifact" {
		t.Fatalf("second acs wrong: %v", fields["AssertionConsumerService:1:Location"])
	}

	if fields["NameIDFormat"] != "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent" {
		t.Fatalf("nameid format = %v", fields["NameIDFormat"])
	}

	// encryption-only certs do not become certData slots
	if fields["certData"] != "SIGNINGCERT" || fields["certData2"] != "SECONDCERT" {
		t.Fatalf("certs = %v / %v", fields["certData"], fields["certData2"])
	}
	if _, ok := fields["certData3"]; ok {
		t.Fatalf("encryption cert leaked into certData3")
	}

	if fields["name:en"] != "Example SP" || fields["name:nl"] != "Voorbeeld SP" {
		t.Fatalf("display names = %v / %v", fields["name:en"], fields["name:nl"])
	}
	if _, ok := fields["name:de"]; ok {
		t.Fatalf("unsupported language kept")
	}
	if fields["description:en"] != "A sample service" {
		t.Fatalf("description = %v", fields["description:en"])
	}
	if fields["OrganizationName:en"] != "Example Org" {
		t.Fatalf("organization name = %v", fields["OrganizationName:en"])
	}
	if fields["OrganizationDisplayName:nl"] != "Voorbeeld Organisatie" {
		t.Fatalf("organization display name = %v", fields["OrganizationDisplayName:nl"])
	}

	nested := entities[1]
	if nested.EntityID != "https://nested.example" {
		t.Fatalf("nested descriptor not collected: %q", nested.EntityID)
	}
}

func TestParseContacts(t *testing.T) {
	entities, err := Parse(strings.NewReader(sampleFeed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	fields := entities[0].MetaDataFields

	if fields["contacts:0:contactType"] != "technical" {
		t.Fatalf("first slot = %v", fields["contacts:0:contactType"])
	}
	if fields["contacts:0:emailAddress"] != "mailto:tech@example.org" {
		t.Fatalf("duplicate contact type must not win: %v", fields["contacts:0:emailAddress"])
	}
	if fields["contacts:0:givenName"] != "Tess" || fields["contacts:0:surName"] != "Admin" {
		t.Fatalf("contact names = %v / %v", fields["contacts:0:givenName"], fields["contacts:0:surName"])
	}
	if fields["contacts:1:contactType"] != "support" {
		t.Fatalf("second slot = %v", fields["contacts:1:contactType"])
	}
	for key := range fields {
		if strings.Contains(key, "billing") {
			t.Fatalf("unsupported contact type kept: %s", key)
		}
	}
	if _, ok := fields["contacts:2:contactType"]; ok {
		t.Fatalf("extra contact slot filled: %v", fields["contacts:2:contactType"])
	}
}

func TestEntityValid(t *testing.T) {
	missing := Entity{EntityID: "https://sp.example", MetaDataFields: map[string]any{}}
	if missing.Valid() {
		t.Fatalf("entity without acs must be invalid")
	}
	anonymous := Entity{MetaDataFields: map[string]any{
		"AssertionConsumerService:0:Location": "https://sp.example/acs",
	}}
	if anonymous.Valid() {
		t.Fatalf("entity without entityID must be invalid")
	}
}

func TestFetcherUsesOverrideURL(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL+"/default", 0)
	entities, err := fetcher.Fetch(context.Background(), server.URL+"/override")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if path != "/override" {
		t.Fatalf("fetched %q, want the override url", path)
	}
	if len(entities) != 2 {
		t.Fatalf("entities = %d", len(entities))
	}

	if _, err := fetcher.Fetch(context.Background(), ""); err != nil {
		t.Fatalf("default fetch: %v", err)
	}
	if path != "/default" {
		t.Fatalf("fetched %q, want the configured url", path)
	}
}

func TestFetcherRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	fetcher := NewFetcher(server.URL, 0)
	if _, err := fetcher.Fetch(context.Background(), ""); err == nil {
		t.Fatalf("expected error on non-200 status")
	}
}
