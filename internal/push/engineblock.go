// Package push transforms registry documents into the EngineBlock and OIDC
// proxy wire shapes and delivers them.
package push

import (
	"sort"
	"strconv"
	"strings"

	"metaman/api/internal/store"
)

// Builder assembles the EngineBlock `connections` payload.
type Builder struct {
	// ExcludeImported drops eduGAIN-imported SPs that were not explicitly
	// push-enabled.
	ExcludeImported bool
	// OidcBaseURL is the proxy endpoint used for the synthetic ACS entry on
	// OIDC relying parties.
	OidcBaseURL string
}

var pushedTypes = []store.EntityType{
	store.ServiceProvider,
	store.RelyingParty,
	store.IdentityProvider,
}

// Pushable reports whether a document takes part in a push.
func (b *Builder) Pushable(doc *store.MetaData) bool {
	if doc.BoolField("coin:exclude_from_push") {
		return false
	}
	if b.ExcludeImported && doc.Type == store.ServiceProvider &&
		doc.BoolField("coin:imported_from_edugain") && !doc.BoolField("coin:push_enabled") {
		return false
	}
	return true
}

// Connections merges the pushable documents into one map keyed by document
// id.
func (b *Builder) Connections(docs []*store.MetaData) map[string]any {
	connections := make(map[string]any, len(docs))
	for _, doc := range docs {
		if !b.Pushable(doc) {
			continue
		}
		connections[doc.ID] = b.Connection(doc)
	}
	return map[string]any{"connections": connections}
}

// Connection builds the external representation of one document.
func (b *Builder) Connection(doc *store.MetaData) map[string]any {
	connection := map[string]any{
		"name":  doc.EntityID(),
		"state": doc.State(),
		"type":  connectionType(doc.Type),
	}
	metadata := Nest(doc.MetaDataFields())
	if doc.Type == store.RelyingParty {
		b.syntheticACS(doc, metadata)
	}
	if manipulation, ok := doc.Data["manipulation"].(string); ok && manipulation != "" {
		connection["manipulation_code"] = manipulation
	}
	if allowedAll, ok := doc.Data["allowedall"].(bool); ok {
		connection["allow_all_entities"] = allowedAll
	}
	if allowed := doc.ReferenceNames("allowedEntities"); len(allowed) > 0 {
		connection["allowed_connections"] = nameRecords(allowed)
	}
	if doc.Type == store.IdentityProvider {
		if consent := doc.References("disableConsent"); len(consent) > 0 {
			connection["disable_consent_connections"] = consent
		}
		if stepup := doc.References("stepupEntities"); len(stepup) > 0 {
			connection["stepup_connections"] = stepup
		}
	} else {
		connection["arp_attributes"] = arpAttributes(doc)
	}
	if formats := nameIDFormats(doc); len(formats) > 0 {
		connection["name_id_formats"] = formats
	}
	connection["metadata"] = metadata
	pruneEmpty(connection, true)
	return connection
}

func connectionType(entityType store.EntityType) string {
	if entityType == store.IdentityProvider {
		return "saml20-idp"
	}
	return "saml20-sp"
}

func nameRecords(names []string) []map[string]any {
	records := make([]map[string]any, 0, len(names))
	for _, name := range names {
		records = append(records, map[string]any{"name": name})
	}
	return records
}

// syntheticACS gives OIDC relying parties the ACS entry EngineBlock expects
// from a SAML SP.
func (b *Builder) syntheticACS(doc *store.MetaData, metadata map[string]any) {
	metadata["AssertionConsumerService"] = []any{map[string]any{
		"Binding":  "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST",
		"Location": strings.TrimRight(b.OidcBaseURL, "/") + "/saml/SSO/alias/" + doc.EntityID(),
		"index":    "0",
	}}
}

// arpAttributes exports the attribute release policy. Entries sourced from
// the IdP and entries with an empty value are stripped before export.
func arpAttributes(doc *store.MetaData) map[string]any {
	arp, ok := doc.Data["arp"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	if enabled, ok := arp["enabled"].(bool); !ok || !enabled {
		return map[string]any{}
	}
	attributes, ok := arp["attributes"].(map[string]any)
	if !ok {
		return map[string]any{}
	}
	exported := make(map[string]any, len(attributes))
	for name, raw := range attributes {
		entries, ok := raw.([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(entries))
		for _, rawEntry := range entries {
			entry, ok := rawEntry.(map[string]any)
			if !ok {
				continue
			}
			if entry["source"] == "idp" {
				continue
			}
			if value, ok := entry["value"].(string); ok && value == "" {
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) > 0 {
			exported[name] = kept
		}
	}
	return exported
}

func nameIDFormats(doc *store.MetaData) []string {
	formats := make([]string, 0, 3)
	if format := doc.StringField("NameIDFormat"); format != "" {
		formats = append(formats, format)
	}
	for i := 0; ; i++ {
		format := doc.StringField("NameIDFormats:" + strconv.Itoa(i))
		if format == "" {
			break
		}
		formats = append(formats, format)
	}
	return formats
}

// Nest reconstructs colon-flattened metaDataFields into nested objects.
// Numeric segments collect into ordered lists, so
// AssertionConsumerService:0:Location and friends come out as a list of
// endpoint objects.
func Nest(fields map[string]any) map[string]any {
	root := make(map[string]any)
	for _, key := range store.SortedKeys(fields) {
		segments := store.SplitColonKey(key)
		node := root
		for i, segment := range segments {
			if i == len(segments)-1 {
				node[segment] = fields[key]
				break
			}
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[segment] = child
			}
			node = child
		}
	}
	return collapseLists(root)
}

// collapseLists turns maps whose keys are all consecutive integers into
// ordered slices.
func collapseLists(node map[string]any) map[string]any {
	for key, value := range node {
		child, ok := value.(map[string]any)
		if !ok {
			continue
		}
		node[key] = collapseLists(child)
		if list, ok := asList(node[key].(map[string]any)); ok {
			node[key] = list
		}
	}
	return node
}

func asList(node map[string]any) ([]any, bool) {
	if len(node) == 0 {
		return nil, false
	}
	indexes := make([]int, 0, len(node))
	for key := range node {
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, false
		}
		indexes = append(indexes, index)
	}
	sort.Ints(indexes)
	list := make([]any, 0, len(indexes))
	for _, index := range indexes {
		list = append(list, node[strconv.Itoa(index)])
	}
	return list, true
}

// pruneEmpty removes empty nested maps recursively. arp_attributes survives
// even when empty; EngineBlock treats its absence differently from an empty
// policy.
func pruneEmpty(node map[string]any, keepArp bool) {
	for key, value := range node {
		switch typed := value.(type) {
		case map[string]any:
			if keepArp && key == "arp_attributes" {
				continue
			}
			pruneEmpty(typed, false)
			if len(typed) == 0 {
				delete(node, key)
			}
		case []any:
			for _, item := range typed {
				if child, ok := item.(map[string]any); ok {
					pruneEmpty(child, false)
				}
			}
			if len(typed) == 0 {
				delete(node, key)
			}
		}
	}
}
