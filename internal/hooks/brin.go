package hooks

import (
	"context"

	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

const (
	brinField          = "coin:institution_brin"
	brinSchacHomeField = "coin:institution_brin_schac_home"
)

// IdentityProviderBrinCodeHook requires the BRIN code and its schac-home
// counterpart to be both present or both absent.
type IdentityProviderBrinCodeHook struct {
	BaseHook
}

func NewIdentityProviderBrinCodeHook() *IdentityProviderBrinCodeHook {
	return &IdentityProviderBrinCodeHook{}
}

func (h *IdentityProviderBrinCodeHook) Name() string { return "IdentityProviderBrinCodeHook" }

func (h *IdentityProviderBrinCodeHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.IdentityProvider
}

func (h *IdentityProviderBrinCodeHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkBrinPair(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *IdentityProviderBrinCodeHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkBrinPair(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func checkBrinPair(doc *store.MetaData) error {
	brin := doc.StringField(brinField)
	schacHome := doc.StringField(brinSchacHomeField)
	if (brin == "") != (schacHome == "") {
		missing := brinSchacHomeField
		if brin == "" {
			missing = brinField
		}
		return validation.Failf(missing,
			"%s and %s must be both present or both absent", brinField, brinSchacHomeField)
	}
	return nil
}
