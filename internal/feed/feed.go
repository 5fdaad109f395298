// Package feed fetches and parses an eduGAIN-style SAML metadata feed into
// the colon-flattened metaDataFields shape used by the registry.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// Entity is one service provider parsed from the feed, already flattened.
type Entity struct {
	EntityID       string
	MetaDataFields map[string]any
}

// Valid reports whether the entry carries enough metadata to become a
// registry document.
func (e Entity) Valid() bool {
	if e.EntityID == "" {
		return false
	}
	_, ok := e.MetaDataFields["AssertionConsumerService:0:Location"]
	return ok
}

type entitiesDescriptor struct {
	XMLName  xml.Name             `xml:"EntitiesDescriptor"`
	Entities []entityDescriptor   `xml:"EntityDescriptor"`
	Nested   []entitiesDescriptor `xml:"EntitiesDescriptor"`
}

type entityDescriptor struct {
	EntityID string           `xml:"entityID,attr"`
	SP       *spSSODescriptor `xml:"SPSSODescriptor"`
	Org      *organization    `xml:"Organization"`
	Contacts []contactPerson  `xml:"ContactPerson"`
}

type spSSODescriptor struct {
	ACS            []indexedEndpoint `xml:"AssertionConsumerService"`
	NameIDFormats  []string          `xml:"NameIDFormat"`
	KeyDescriptors []keyDescriptor   `xml:"KeyDescriptor"`
	Extensions     *spExtensions     `xml:"Extensions"`
}

type indexedEndpoint struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
	Index    string `xml:"index,attr"`
}

type keyDescriptor struct {
	Use         string `xml:"use,attr"`
	Certificate string `xml:"KeyInfo>X509Data>X509Certificate"`
}

type spExtensions struct {
	DisplayNames []localizedValue `xml:"UIInfo>DisplayName"`
	Descriptions []localizedValue `xml:"UIInfo>Description"`
}

type localizedValue struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type organization struct {
	Names        []localizedValue `xml:"OrganizationName"`
	DisplayNames []localizedValue `xml:"OrganizationDisplayName"`
	URLs         []localizedValue `xml:"OrganizationURL"`
}

type contactPerson struct {
	Type    string `xml:"contactType,attr"`
	Given   string `xml:"GivenName"`
	Surname string `xml:"SurName"`
	Email   string `xml:"EmailAddress"`
}

// Parse reads a SAML EntitiesDescriptor (possibly nested) and returns every
// service provider entry in document order.
func Parse(r io.Reader) ([]Entity, error) {
	var root entitiesDescriptor
	decoder := xml.NewDecoder(r)
	if err := decoder.Decode(&root); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	entities := make([]Entity, 0)
	collect(&root, &entities)
	return entities, nil
}

func collect(node *entitiesDescriptor, out *[]Entity) {
	for _, descriptor := range node.Entities {
		if descriptor.SP == nil {
			continue
		}
		*out = append(*out, flatten(descriptor))
	}
	for i := range node.Nested {
		collect(&node.Nested[i], out)
	}
}

func flatten(descriptor entityDescriptor) Entity {
	fields := make(map[string]any)
	sp := descriptor.SP

	acs := append([]indexedEndpoint(nil), sp.ACS...)
	sort.SliceStable(acs, func(i, j int) bool {
		left, _ := strconv.Atoi(acs[i].Index)
		right, _ := strconv.Atoi(acs[j].Index)
		return left < right
	})
	for i, endpoint := range acs {
		prefix := "AssertionConsumerService:" + strconv.Itoa(i)
		fields[prefix+":Binding"] = endpoint.Binding
		fields[prefix+":Location"] = endpoint.Location
		// float64 matches what stored documents hold after a JSON round trip
		fields[prefix+":index"] = float64(i)
	}
	if len(sp.NameIDFormats) > 0 {
		fields["NameIDFormat"] = sp.NameIDFormats[0]
	}
	certIndex := 0
	for _, key := range sp.KeyDescriptors {
		if key.Use == "encryption" || key.Certificate == "" {
			continue
		}
		switch certIndex {
		case 0:
			fields["certData"] = key.Certificate
		case 1:
			fields["certData2"] = key.Certificate
		case 2:
			fields["certData3"] = key.Certificate
		default:
			continue
		}
		certIndex++
	}
	if sp.Extensions != nil {
		localized(fields, "name", sp.Extensions.DisplayNames)
		localized(fields, "description", sp.Extensions.Descriptions)
	}
	if descriptor.Org != nil {
		localized(fields, "OrganizationName", descriptor.Org.Names)
		localized(fields, "OrganizationDisplayName", descriptor.Org.DisplayNames)
		localized(fields, "OrganizationURL", descriptor.Org.URLs)
	}
	for _, contact := range descriptor.Contacts {
		if contact.Type != "technical" && contact.Type != "support" && contact.Type != "administrative" {
			continue
		}
		// first contact of each type wins
		slot := contactSlot(fields, contact.Type)
		if slot == "" {
			continue
		}
		prefix := "contacts:" + slot
		fields[prefix+":contactType"] = contact.Type
		if contact.Given != "" {
			fields[prefix+":givenName"] = contact.Given
		}
		if contact.Surname != "" {
			fields[prefix+":surName"] = contact.Surname
		}
		if contact.Email != "" {
			fields[prefix+":emailAddress"] = contact.Email
		}
	}
	return Entity{EntityID: descriptor.EntityID, MetaDataFields: fields}
}

func localized(fields map[string]any, key string, values []localizedValue) {
	for _, value := range values {
		switch value.Lang {
		case "en", "nl":
			fields[key+":"+value.Lang] = value.Value
		}
	}
}

func contactSlot(fields map[string]any, contactType string) string {
	for i := 0; i < 4; i++ {
		slot := strconv.Itoa(i)
		existing, ok := fields["contacts:"+slot+":contactType"]
		if !ok {
			return slot
		}
		if existing == contactType {
			return ""
		}
	}
	return ""
}

// Fetcher downloads feed documents over HTTP.
type Fetcher struct {
	client *http.Client
	url    string
}

func NewFetcher(url string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, url: url}
}

// Fetch retrieves and parses the configured feed, or an override URL when
// one is given.
func (f *Fetcher) Fetch(ctx context.Context, overrideURL string) ([]Entity, error) {
	url := f.url
	if overrideURL != "" {
		url = overrideURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch feed: unexpected status %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}
