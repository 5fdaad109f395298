package hooks

import (
	"context"
	"reflect"

	"metaman/api/internal/store"
)

// SecurityHook enforces the privileged-operation policy in a production
// environment: only super users may create or delete identity providers or
// touch the manipulation script fields, and API users may not delete at all.
// Outside production the hook lets everything through.
type SecurityHook struct {
	BaseHook
	production bool
}

func NewSecurityHook(environment string) *SecurityHook {
	return &SecurityHook{production: environment != "dev" && environment != "test"}
}

func (h *SecurityHook) Name() string { return "SecurityHook" }

func (h *SecurityHook) Applies(doc *store.MetaData) bool {
	switch doc.Type {
	case store.IdentityProvider, store.ServiceProvider, store.RelyingParty:
		return true
	}
	return false
}

func (h *SecurityHook) PrePost(_ context.Context, doc *store.MetaData, user User) (*store.MetaData, error) {
	if h.production && doc.Type == store.IdentityProvider && !user.IsSuperUser {
		return nil, &NotAllowedError{Message: "only super users may create identity providers"}
	}
	return doc, nil
}

func (h *SecurityHook) PrePut(_ context.Context, previous, doc *store.MetaData, user User) (*store.MetaData, error) {
	if !h.production || user.IsSuperUser {
		return doc, nil
	}
	for _, field := range []string{"manipulation", "manipulationNotes"} {
		var before any
		if previous != nil {
			before = previous.Data[field]
		}
		if !reflect.DeepEqual(before, doc.Data[field]) {
			return nil, &NotAllowedError{Message: "only super users may change " + field}
		}
	}
	return doc, nil
}

func (h *SecurityHook) PreDelete(_ context.Context, doc *store.MetaData, user User) (*store.MetaData, error) {
	if !h.production {
		return doc, nil
	}
	if user.IsAPIUser {
		return nil, &NotAllowedError{Message: "API users may not delete entities in production"}
	}
	if doc.Type == store.IdentityProvider && !user.IsSuperUser {
		return nil, &NotAllowedError{Message: "only super users may delete identity providers"}
	}
	return doc, nil
}
