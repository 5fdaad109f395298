package hooks

import (
	"context"

	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

// OidcValidationHook enforces grant-type and redirect-URL consistency on
// relying parties:
//   - authorization_code and implicit require at least one redirect URL
//   - client_credentials forbids redirect URLs
//   - refresh_token must be combined with another grant
//   - refreshTokenValidity requires the refresh_token grant
type OidcValidationHook struct {
	BaseHook
}

func NewOidcValidationHook() *OidcValidationHook { return &OidcValidationHook{} }

func (h *OidcValidationHook) Name() string { return "OidcValidationHook" }

func (h *OidcValidationHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.RelyingParty
}

func (h *OidcValidationHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkOidcGrants(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *OidcValidationHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkOidcGrants(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func checkOidcGrants(doc *store.MetaData) error {
	grants := stringList(doc.Field("grants"))
	redirects := stringList(doc.Field("redirectUrls"))

	hasGrant := func(wanted string) bool {
		for _, grant := range grants {
			if grant == wanted {
				return true
			}
		}
		return false
	}

	if (hasGrant("authorization_code") || hasGrant("implicit")) && len(redirects) == 0 {
		return validation.Failf("redirectUrls",
			"grant types authorization_code and implicit require at least one redirect URI")
	}
	if hasGrant("client_credentials") && len(redirects) > 0 {
		return validation.Failf("redirectUrls", "Redirect URI is not allowed for the client_credentials grant")
	}
	if hasGrant("refresh_token") && len(grants) < 2 {
		return validation.Failf("grants", "refresh_token grant must be combined with another grant type")
	}
	if doc.Field("refreshTokenValidity") != nil && !hasGrant("refresh_token") {
		return validation.Failf("refreshTokenValidity",
			"refreshTokenValidity requires the refresh_token grant type")
	}
	return nil
}

func stringList(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	items := make([]string, 0, len(raw))
	for _, entry := range raw {
		if item, ok := entry.(string); ok && item != "" {
			items = append(items, item)
		}
	}
	return items
}
