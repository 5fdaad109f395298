package hooks

import (
	"context"
	"regexp"
	"strings"

	"metaman/api/internal/schema"
	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

const policyIDPrefix = "urn:surfconext:xacml:policy:id:"

var policyIDSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

// ExtraneousKeysPoliciesHook strips top-level keys the policy schema does
// not declare and derives the identifier and authorship fields from context.
type ExtraneousKeysPoliciesHook struct {
	BaseHook
	registry *schema.Registry
}

func NewExtraneousKeysPoliciesHook(registry *schema.Registry) *ExtraneousKeysPoliciesHook {
	return &ExtraneousKeysPoliciesHook{registry: registry}
}

func (h *ExtraneousKeysPoliciesHook) Name() string { return "ExtraneousKeysPoliciesHook" }

func (h *ExtraneousKeysPoliciesHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.Policy
}

func (h *ExtraneousKeysPoliciesHook) PrePost(_ context.Context, doc *store.MetaData, user User) (*store.MetaData, error) {
	return h.normalize(doc, user), nil
}

func (h *ExtraneousKeysPoliciesHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, user User) (*store.MetaData, error) {
	return h.normalize(doc, user), nil
}

func (h *ExtraneousKeysPoliciesHook) normalize(doc *store.MetaData, user User) *store.MetaData {
	declared := h.registry.TopLevelProperties(store.Policy)
	for key := range doc.Data {
		if _, ok := declared[key]; !ok {
			delete(doc.Data, key)
		}
	}

	name, _ := doc.Data["name"].(string)
	policyID := PolicyID(name)
	doc.Data["policyId"] = policyID
	doc.Data["entityid"] = policyID
	if user.Name != "" {
		doc.Data["userDisplayName"] = user.Name
		if _, ok := doc.Data["authenticatingAuthorityName"].(string); !ok {
			doc.Data["authenticatingAuthorityName"] = user.Name
		}
	}
	return doc
}

// PolicyID derives the stable policy identifier from the policy name.
func PolicyID(name string) string {
	sanitized := policyIDSanitizer.ReplaceAllString(strings.ToLower(name), "_")
	return policyIDPrefix + strings.Trim(sanitized, "_")
}

// PolicyValidationHook checks the semantic shape of a policy: regular
// policies need deny-advice text and at least one attribute with a value;
// step-up policies need at least one LoA carrying attributes.
type PolicyValidationHook struct {
	BaseHook
}

func NewPolicyValidationHook() *PolicyValidationHook { return &PolicyValidationHook{} }

func (h *PolicyValidationHook) Name() string { return "PolicyValidationHook" }

func (h *PolicyValidationHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.Policy
}

func (h *PolicyValidationHook) PrePost(_ context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkPolicyShape(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *PolicyValidationHook) PrePut(_ context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := checkPolicyShape(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func checkPolicyShape(doc *store.MetaData) error {
	policyType, _ := doc.Data["type"].(string)
	switch policyType {
	case "step":
		loas, _ := doc.Data["loas"].([]any)
		for _, entry := range loas {
			loa, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if attributes, ok := loa["attributes"].([]any); ok && len(attributes) > 0 {
				return nil
			}
			if notations, ok := loa["cidrNotations"].([]any); ok && len(notations) > 0 {
				return nil
			}
		}
		return validation.Failf("loas", "step-up policy requires at least one LoA with attributes")
	default:
		var failure *validation.Error
		if advice, _ := doc.Data["denyAdvice"].(string); advice == "" {
			failure = validation.Merge(failure, validation.Failf("denyAdvice", "deny advice is required"))
		}
		if !hasNonEmptyAttribute(doc) {
			failure = validation.Merge(failure, validation.Failf("attributes",
				"policy requires at least one attribute with a non-empty value"))
		}
		if failure != nil {
			return failure
		}
		return nil
	}
}

func hasNonEmptyAttribute(doc *store.MetaData) bool {
	attributes, _ := doc.Data["attributes"].([]any)
	for _, entry := range attributes {
		attribute, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if value, _ := attribute["value"].(string); value != "" {
			return true
		}
	}
	return false
}

// PolicyNameConstraintsHook keeps policy names unique case-insensitively.
type PolicyNameConstraintsHook struct {
	BaseHook
	store store.DocumentStore
}

func NewPolicyNameConstraintsHook(docs store.DocumentStore) *PolicyNameConstraintsHook {
	return &PolicyNameConstraintsHook{store: docs}
}

func (h *PolicyNameConstraintsHook) Name() string { return "PolicyNameConstraintsHook" }

func (h *PolicyNameConstraintsHook) Applies(doc *store.MetaData) bool {
	return doc.Type == store.Policy
}

func (h *PolicyNameConstraintsHook) PrePost(ctx context.Context, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.checkName(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *PolicyNameConstraintsHook) PrePut(ctx context.Context, _ *store.MetaData, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if err := h.checkName(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (h *PolicyNameConstraintsHook) checkName(ctx context.Context, doc *store.MetaData) error {
	name, _ := doc.Data["name"].(string)
	if name == "" {
		return nil
	}
	policies, err := h.store.Find(ctx, store.Policy.Collection(), store.Query{})
	if err != nil {
		return err
	}
	for _, other := range policies {
		if other.ID == doc.ID {
			continue
		}
		otherName, _ := other.Data["name"].(string)
		if strings.EqualFold(otherName, name) {
			return validation.Failf("name", "policy name %q is already in use", name)
		}
	}
	return nil
}
