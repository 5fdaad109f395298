package store

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// EntityType identifies a metadata entity category. The string value is the
// primary collection name and part of the persisted wire format.
type EntityType string

const (
	ServiceProvider      EntityType = "saml20_sp"
	IdentityProvider     EntityType = "saml20_idp"
	RelyingParty         EntityType = "oidc10_rp"
	ResourceServer       EntityType = "oauth20_rs"
	Provisioning         EntityType = "provisioning"
	Policy               EntityType = "policy"
	Organization         EntityType = "organization"
	SingleTenantTemplate EntityType = "single_tenant_template"
	SRAM                 EntityType = "sram"
)

var EntityTypes = []EntityType{
	ServiceProvider,
	IdentityProvider,
	RelyingParty,
	ResourceServer,
	Provisioning,
	Policy,
	Organization,
	SingleTenantTemplate,
	SRAM,
}

func ParseEntityType(value string) (EntityType, bool) {
	for _, t := range EntityTypes {
		if string(t) == value {
			return t, true
		}
	}
	return "", false
}

func (t EntityType) Collection() string              { return string(t) }
func (t EntityType) RevisionCollection() string      { return string(t) + "_revision" }
func (t EntityType) ChangeRequestCollection() string { return string(t) + "_change_request" }

// IdentityGroup returns the entity types whose primary collections share an
// entityid uniqueness scope with t. SP, SRAM and RelyingParty form one group,
// ResourceServer shares with RelyingParty, everything else is unique alone.
func IdentityGroup(t EntityType) []EntityType {
	switch t {
	case ServiceProvider, SRAM:
		return []EntityType{ServiceProvider, SRAM, RelyingParty}
	case RelyingParty:
		return []EntityType{ServiceProvider, SRAM, RelyingParty, ResourceServer}
	case ResourceServer:
		return []EntityType{ResourceServer, RelyingParty}
	default:
		return []EntityType{t}
	}
}

// Revision is the embedded revision marker of a document.
type Revision struct {
	Number     int       `json:"number"`
	Created    time.Time `json:"created"`
	UpdatedBy  string    `json:"updatedBy"`
	ParentID   string    `json:"parentId,omitempty"`
	Terminated bool      `json:"terminated,omitempty"`
	IsLatest   bool      `json:"isLatest"`
}

// MetaData is one semi-structured entity document. Data always carries
// "entityid", "state" and "metaDataFields" (a flat map of colon-delimited
// compound keys); relation lists hold records shaped {"name": <entityid>}.
// These key shapes are a wire-compatibility contract and must not change.
type MetaData struct {
	ID       string         `json:"id"`
	Type     EntityType     `json:"type"`
	Version  int64          `json:"version"`
	Revision Revision       `json:"revision"`
	Data     map[string]any `json:"data"`
}

func (m *MetaData) EntityID() string {
	id, _ := m.Data["entityid"].(string)
	return id
}

func (m *MetaData) State() string {
	state, _ := m.Data["state"].(string)
	return state
}

func (m *MetaData) MetaDataFields() map[string]any {
	fields, ok := m.Data["metaDataFields"].(map[string]any)
	if !ok {
		fields = map[string]any{}
		m.Data["metaDataFields"] = fields
	}
	return fields
}

func (m *MetaData) Field(key string) any {
	fields, ok := m.Data["metaDataFields"].(map[string]any)
	if !ok {
		return nil
	}
	return fields[key]
}

func (m *MetaData) StringField(key string) string {
	value, _ := m.Field(key).(string)
	return value
}

// BoolField reads a metaDataFields flag, accepting the bool, "1"/"0" string
// and numeric encodings that occur in imported documents.
func (m *MetaData) BoolField(key string) bool {
	switch value := m.Field(key).(type) {
	case bool:
		return value
	case string:
		return value == "1" || strings.EqualFold(value, "true")
	case float64:
		return value != 0
	default:
		return false
	}
}

// References returns the record list of a relation field.
func (m *MetaData) References(field string) []map[string]any {
	raw, ok := m.Data[field].([]any)
	if !ok {
		return nil
	}
	refs := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if record, ok := entry.(map[string]any); ok {
			refs = append(refs, record)
		}
	}
	return refs
}

// ReferenceNames returns the "name" values of a relation field.
func (m *MetaData) ReferenceNames(field string) []string {
	refs := m.References(field)
	names := make([]string, 0, len(refs))
	for _, record := range refs {
		if name, ok := record["name"].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

// SetReferences replaces a relation field, preserving the wire shape.
func (m *MetaData) SetReferences(field string, refs []map[string]any) {
	raw := make([]any, 0, len(refs))
	for _, record := range refs {
		raw = append(raw, any(record))
	}
	m.Data[field] = raw
}

// DeepCopy clones the document through JSON so hook mutations cannot leak
// into the caller's copy.
func (m *MetaData) DeepCopy() *MetaData {
	raw, err := json.Marshal(m)
	if err != nil {
		clone := *m
		return &clone
	}
	var clone MetaData
	if err := json.Unmarshal(raw, &clone); err != nil {
		copied := *m
		return &copied
	}
	return &clone
}

// ReferenceFields lists the relation fields a type can carry, keyed to the
// entity types the referenced entityid must resolve in.
func ReferenceFields(t EntityType) map[string][]EntityType {
	switch t {
	case IdentityProvider:
		return map[string][]EntityType{
			"allowedEntities": {ServiceProvider, SRAM, RelyingParty},
			"disableConsent":  {ServiceProvider, SRAM, RelyingParty},
			"stepupEntities":  {ServiceProvider, SRAM, RelyingParty},
		}
	case ServiceProvider, SRAM:
		return map[string][]EntityType{
			"allowedEntities": {IdentityProvider},
		}
	case RelyingParty:
		return map[string][]EntityType{
			"allowedEntities":        {IdentityProvider},
			"allowedResourceServers": {ResourceServer},
		}
	case Policy:
		return map[string][]EntityType{
			"serviceProviderIds":  {ServiceProvider, SRAM, RelyingParty},
			"identityProviderIds": {IdentityProvider},
		}
	case Provisioning:
		return map[string][]EntityType{
			"applications": {ServiceProvider, RelyingParty},
		}
	default:
		return nil
	}
}

// SortedKeys gives deterministic iteration order over a generic map.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ChangeRequest is a pending partial update awaiting human approval,
// persisted in the type's change-request shadow collection.
type ChangeRequest struct {
	ID          string         `json:"id"`
	MetaDataID  string         `json:"metaDataId"`
	Type        EntityType     `json:"type"`
	PathUpdates map[string]any `json:"pathUpdates"`
	Note        string         `json:"note,omitempty"`
	Created     time.Time      `json:"created"`
	RequestedBy string         `json:"requestedBy"`
}
