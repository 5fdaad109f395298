package hooks

import (
	"context"
	"strings"

	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

// IdentityProviderDeleteHook blocks deletion of an identity provider that is
// still referenced by a policy.
type IdentityProviderDeleteHook struct {
	BaseHook
	store store.DocumentStore
}

func NewIdentityProviderDeleteHook(docs store.DocumentStore) *IdentityProviderDeleteHook {
	return &IdentityProviderDeleteHook{store: docs}
}

func (h *IdentityProviderDeleteHook) Name() string { return "IdentityProviderDeleteHook" }

func (h *IdentityProviderDeleteHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.IdentityProvider
}

func (h *IdentityProviderDeleteHook) PreDelete(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	policies, err := h.store.Find(ctx, store.Policy.Collection(), store.Query{
		References: map[string]string{"identityProviderIds": doc.EntityID()},
	})
	if err != nil {
		return nil, err
	}
	if len(policies) > 0 {
		return nil, validation.Failf("entityid",
			"identity provider is referenced by policies: %s", policyNames(policies))
	}
	return doc, nil
}

// ServiceProviderDeleteHook blocks deletion of a service provider or relying
// party referenced by a policy, unless the policy spans multiple service
// providers and keeps working without this one.
type ServiceProviderDeleteHook struct {
	BaseHook
	store store.DocumentStore
}

func NewServiceProviderDeleteHook(docs store.DocumentStore) *ServiceProviderDeleteHook {
	return &ServiceProviderDeleteHook{store: docs}
}

func (h *ServiceProviderDeleteHook) Name() string { return "ServiceProviderDeleteHook" }

func (h *ServiceProviderDeleteHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.ServiceProvider || doc.Type == store.RelyingParty
}

func (h *ServiceProviderDeleteHook) PreDelete(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	policies, err := h.store.Find(ctx, store.Policy.Collection(), store.Query{
		References: map[string]string{"serviceProviderIds": doc.EntityID()},
	})
	if err != nil {
		return nil, err
	}
	blocking := make([]*store.MetaData, 0, len(policies))
	for _, policy := range policies {
		if len(policy.ReferenceNames("serviceProviderIds")) <= 1 {
			blocking = append(blocking, policy)
		}
	}
	if len(blocking) > 0 {
		return nil, validation.Failf("entityid",
			"service provider is the only provider of policies: %s", policyNames(blocking))
	}
	return doc, nil
}

// OrganizationDeleteHook blocks deletion of an organization that other
// entities still point at through organisationId.
type OrganizationDeleteHook struct {
	BaseHook
	store store.DocumentStore
}

func NewOrganizationDeleteHook(docs store.DocumentStore) *OrganizationDeleteHook {
	return &OrganizationDeleteHook{store: docs}
}

func (h *OrganizationDeleteHook) Name() string { return "OrganizationDeleteHook" }

func (h *OrganizationDeleteHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.Organization
}

func (h *OrganizationDeleteHook) PreDelete(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	entityID := doc.EntityID()
	for _, entityType := range store.EntityTypes {
		if entityType == store.Organization {
			continue
		}
		referenced, err := h.store.Exists(ctx, entityType.Collection(), store.Query{
			Data: map[string]any{"organisationId": entityID},
		})
		if err != nil {
			return nil, err
		}
		if referenced {
			return nil, validation.Failf("entityid",
				"organization is still referenced by %s entities", entityType)
		}
	}
	return doc, nil
}

// ProvisioningApplicationDeleteHook cascades the removal of a deleted
// application from every provisioning document's applications list, one
// revision-creating update per provisioning document.
type ProvisioningApplicationDeleteHook struct {
	BaseHook
	store    store.DocumentStore
	cascader Cascader
}

func NewProvisioningApplicationDeleteHook(docs store.DocumentStore, cascader Cascader) *ProvisioningApplicationDeleteHook {
	return &ProvisioningApplicationDeleteHook{store: docs, cascader: cascader}
}

func (h *ProvisioningApplicationDeleteHook) Name() string { return "ProvisioningApplicationDeleteHook" }

func (h *ProvisioningApplicationDeleteHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.RelyingParty || doc.Type == store.ServiceProvider
}

func (h *ProvisioningApplicationDeleteHook) PreDelete(ctx context.Context, doc *store.MetaData, user User) (*store.MetaData, error) {
	entityID := doc.EntityID()
	provisionings, err := h.store.Find(ctx, store.Provisioning.Collection(), store.Query{
		References: map[string]string{"applications": entityID},
	})
	if err != nil {
		return nil, err
	}
	for _, provisioning := range provisionings {
		refs := provisioning.References("applications")
		kept := make([]map[string]any, 0, len(refs))
		for _, record := range refs {
			if name, _ := record["name"].(string); name != entityID {
				kept = append(kept, record)
			}
		}
		provisioning.SetReferences("applications", kept)
		note := "removed application " + entityID + " after entity deletion"
		if err := h.cascader.CascadeUpdate(ctx, provisioning, user.Name, note); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func policyNames(policies []*store.MetaData) string {
	names := make([]string, 0, len(policies))
	for _, policy := range policies {
		if name, ok := policy.Data["name"].(string); ok && name != "" {
			names = append(names, name)
			continue
		}
		names = append(names, policy.ID)
	}
	return strings.Join(names, ", ")
}
