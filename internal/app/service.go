package app

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"metaman/api/internal/config"
	"metaman/api/internal/hooks"
	"metaman/api/internal/metrics"
	"metaman/api/internal/schema"
	"metaman/api/internal/secrets"
	"metaman/api/internal/store"
)

// searchIndexer receives entity index updates; it may be nil when search is
// not configured.
type searchIndexer interface {
	IndexMetaData(doc *store.MetaData)
	RemoveMetaData(entityType store.EntityType, id string)
}

// Service orchestrates the hook chain, schema registry, revisioning engine
// and document store for every public metadata operation.
type Service struct {
	cfg      config.Config
	store    store.DocumentStore
	registry *schema.Registry
	hooks    *hooks.Composite
	metrics  *metrics.Metrics
	log      zerolog.Logger
	search   searchIndexer
	feed     feedSource
}

func New(cfg config.Config, docs store.DocumentStore, registry *schema.Registry, oidcClients hooks.ClientRegistry, secretService *secrets.Service, m *metrics.Metrics, log zerolog.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		store:    docs,
		registry: registry,
		metrics:  m,
		log:      log.With().Str("component", "metadata").Logger(),
	}
	// Registration order is significant: coercion and normalization first,
	// then semantic validators, then security, then the cascading hooks,
	// with external side effects last.
	s.hooks = hooks.NewComposite(
		hooks.NewTypeSafetyHook(registry),
		hooks.NewExtraneousKeysPoliciesHook(registry),
		hooks.NewEntityIDDuplicationHook(docs),
		hooks.NewEntityIDConstraintsHook(docs),
		hooks.NewCertificateDataDuplicationHook(),
		hooks.NewRequiredAttributesHook(registry),
		hooks.NewIdentityProviderBrinCodeHook(),
		hooks.NewSSIDValidationHook(docs),
		hooks.NewOidcValidationHook(),
		hooks.NewPolicyNameConstraintsHook(docs),
		hooks.NewPolicyValidationHook(),
		hooks.NewEmptyRevisionHook(),
		hooks.NewSecurityHook(cfg.Environment),
		hooks.NewEncryptionHook(secretService),
		hooks.NewSecretHook(),
		hooks.NewIdentityProviderDeleteHook(docs),
		hooks.NewServiceProviderDeleteHook(docs),
		hooks.NewOrganizationDeleteHook(docs),
		hooks.NewEntityIDReconcilerHook(docs, s),
		hooks.NewProvisioningApplicationDeleteHook(docs, s),
		hooks.NewOpenIDConnectHook(oidcClients),
	)
	return s
}

// SetSearch attaches the optional entity search indexer.
func (s *Service) SetSearch(indexer searchIndexer) {
	s.search = indexer
}

// Store exposes the underlying document store to sibling subsystems.
func (s *Service) Store() store.DocumentStore { return s.store }

// Ping reports document store connectivity.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

// Hooks exposes the composite chain, mainly for tests.
func (s *Service) Hooks() *hooks.Composite { return s.hooks }

// Get reads the Active document and enriches it through the postGet hooks.
func (s *Service) Get(ctx context.Context, entityType store.EntityType, id string) (*store.MetaData, error) {
	doc, err := s.store.FindByID(ctx, entityType.Collection(), id)
	if err != nil {
		return nil, asDomainError(err)
	}
	enriched, err := s.hooks.PostGet(ctx, doc)
	if err != nil {
		return nil, asDomainError(err)
	}
	return enriched, nil
}

// Create runs the prePost chain, validates and persists revision 0.
func (s *Service) Create(ctx context.Context, doc *store.MetaData, user hooks.User, excludeFromPushRequired bool) (*store.MetaData, error) {
	start := time.Now()
	if doc.Data == nil {
		doc.Data = s.registry.Template(doc.Type)
	}
	doc.MetaDataFields()

	if excludeFromPushRequired {
		doc.MetaDataFields()["coin:exclude_from_push"] = true
	}

	doc, err := s.hooks.PrePost(ctx, doc, user)
	if err != nil {
		return nil, s.hookFailure(err)
	}
	if doc, err = s.validate(ctx, doc); err != nil {
		return nil, err
	}

	newRevision(doc, user.Name, time.Now().UTC())
	if err := s.store.Save(ctx, doc.Type.Collection(), doc); err != nil {
		return nil, asDomainError(err)
	}
	s.indexDoc(doc)
	s.metrics.ObserveMutation("create", string(doc.Type), start)
	s.log.Info().Str("type", string(doc.Type)).Str("id", doc.ID).
		Str("entityid", doc.EntityID()).Str("user", user.Name).Msg("created metadata")
	return s.Get(ctx, doc.Type, doc.ID)
}

// Update archives the current Active body and promotes the submitted one.
// The caller-supplied version drives the optimistic-concurrency check.
func (s *Service) Update(ctx context.Context, doc *store.MetaData, user hooks.User, excludeFromPushRequired bool) (*store.MetaData, error) {
	start := time.Now()
	previous, err := s.store.FindByID(ctx, doc.Type.Collection(), doc.ID)
	if err != nil {
		return nil, asDomainError(err)
	}
	submittedVersion := doc.Version
	// Stale submissions are rejected before anything reaches the shadow
	// collection; the CAS below stays the guard against a concurrent
	// writer racing past this check.
	if submittedVersion != previous.Version {
		return nil, asDomainError(store.ErrOptimisticLock)
	}
	if excludeFromPushRequired {
		doc.MetaDataFields()["coin:exclude_from_push"] = true
	}

	doc, err = s.hooks.PrePut(ctx, previous, doc, user)
	if err != nil {
		return nil, s.hookFailure(err)
	}
	if doc, err = s.validate(ctx, doc); err != nil {
		return nil, err
	}

	archived := archiveCurrent(previous)
	if err := s.store.Save(ctx, doc.Type.RevisionCollection(), archived); err != nil {
		return nil, asDomainError(err)
	}
	promote(doc, previous, archived, user.Name, time.Now().UTC())
	doc.Version = submittedVersion
	if err := s.store.Update(ctx, doc.Type.Collection(), doc); err != nil {
		if removeErr := s.store.Remove(ctx, doc.Type.RevisionCollection(), archived.ID); removeErr != nil {
			s.log.Warn().Err(removeErr).Str("id", archived.ID).Msg("could not remove archived revision after rejected update")
		}
		return nil, asDomainError(err)
	}
	s.indexDoc(doc)
	s.metrics.ObserveMutation("update", string(doc.Type), start)
	s.log.Info().Str("type", string(doc.Type)).Str("id", doc.ID).
		Int("revision", doc.Revision.Number).Str("user", user.Name).Msg("updated metadata")
	return s.Get(ctx, doc.Type, doc.ID)
}

// Delete runs the preDelete chain, drops pending change requests, archives
// the Active body and leaves a terminated tombstone in the shadow
// collection.
func (s *Service) Delete(ctx context.Context, entityType store.EntityType, id string, user hooks.User, note string) error {
	start := time.Now()
	current, err := s.store.FindByID(ctx, entityType.Collection(), id)
	if err != nil {
		return asDomainError(err)
	}
	if _, err := s.hooks.PreDelete(ctx, current, user); err != nil {
		return s.hookFailure(err)
	}
	if _, err := s.store.FindAllAndRemove(ctx, entityType.ChangeRequestCollection(), store.Query{
		Data: map[string]any{"metaDataId": id},
	}); err != nil {
		return asDomainError(err)
	}
	archived := archiveCurrent(current)
	if err := s.store.Save(ctx, entityType.RevisionCollection(), archived); err != nil {
		return asDomainError(err)
	}
	tombstone := terminalRevision(current, user.Name, note, time.Now().UTC())
	if err := s.store.Save(ctx, entityType.RevisionCollection(), tombstone); err != nil {
		return asDomainError(err)
	}
	if err := s.store.Remove(ctx, entityType.Collection(), id); err != nil {
		return asDomainError(err)
	}
	if s.search != nil {
		s.search.RemoveMetaData(entityType, id)
	}
	s.metrics.ObserveMutation("delete", string(entityType), start)
	s.log.Info().Str("type", string(entityType)).Str("id", id).
		Str("entityid", current.EntityID()).Str("user", user.Name).Msg("deleted metadata")
	return nil
}

// MergeUpdateResult reports whether a sparse update produced a revision.
type MergeUpdateResult struct {
	Changed  bool            `json:"changed"`
	MetaData *store.MetaData `json:"metaData,omitempty"`
}

// MergeUpdate applies a sparse path-to-value map onto the Active body and
// commits a revision only when the resulting metaDataFields differ from the
// previous body. Changes outside metaDataFields do not trigger a commit on
// their own; that asymmetry is long-standing observed behavior downstream
// consumers rely on.
func (s *Service) MergeUpdate(ctx context.Context, entityType store.EntityType, id string, pathUpdates map[string]any, user hooks.User, note string) (*MergeUpdateResult, error) {
	previous, err := s.store.FindByID(ctx, entityType.Collection(), id)
	if err != nil {
		return nil, asDomainError(err)
	}
	next := previous.DeepCopy()
	for path, value := range pathUpdates {
		if value == nil {
			store.DeletePath(next.Data, path)
			continue
		}
		store.SetPath(next.Data, path, value)
	}
	if reflect.DeepEqual(previous.DeepCopy().Data["metaDataFields"], next.Data["metaDataFields"]) {
		return &MergeUpdateResult{Changed: false}, nil
	}
	if note != "" {
		next.Data["revisionnote"] = note
	}
	updated, err := s.Update(ctx, next, user, false)
	if err != nil {
		return nil, err
	}
	return &MergeUpdateResult{Changed: true, MetaData: updated}, nil
}

// Revisions returns the shadow-collection history of a lineage, oldest
// first.
func (s *Service) Revisions(ctx context.Context, entityType store.EntityType, id string) ([]*store.MetaData, error) {
	revisions, err := s.store.Find(ctx, entityType.RevisionCollection(), store.Query{ParentID: id})
	if err != nil {
		return nil, asDomainError(err)
	}
	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].Revision.Number < revisions[j].Revision.Number
	})
	return revisions, nil
}

// RestoreDeleted re-activates a terminated lineage from one of its archived
// bodies. The body is validated against the current schema; it may have
// become invalid under newer rules.
func (s *Service) RestoreDeleted(ctx context.Context, entityType store.EntityType, revisionID string, user hooks.User) (*store.MetaData, error) {
	archived, err := s.store.FindByID(ctx, entityType.RevisionCollection(), revisionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	canonicalID := archived.Revision.ParentID
	if canonicalID == "" {
		return nil, domainError(400, "ValidationFailure", "revision has no parent lineage", nil)
	}
	if _, err := s.store.FindByID(ctx, entityType.Collection(), canonicalID); err == nil {
		return nil, domainError(400, "ValidationFailure", "lineage is still active; use restoreRevision", nil)
	}

	revived := reviveFromRevision(archived)
	revived, err = s.hooks.PrePost(ctx, revived, user)
	if err != nil {
		return nil, s.hookFailure(err)
	}
	if revived, err = s.validate(ctx, revived); err != nil {
		return nil, err
	}

	history, err := s.Revisions(ctx, entityType, canonicalID)
	if err != nil {
		return nil, err
	}
	nextNumber := 0
	for _, revision := range history {
		if revision.Revision.Number >= nextNumber {
			nextNumber = revision.Revision.Number + 1
		}
	}
	revived.ID = canonicalID
	revived.Revision = store.Revision{
		Number:    nextNumber,
		Created:   time.Now().UTC(),
		UpdatedBy: user.Name,
		ParentID:  archived.ID,
		IsLatest:  true,
	}
	revived.Data["revisionnote"] = fmt.Sprintf("restored deleted entity from revision %d", archived.Revision.Number)
	if err := s.store.Save(ctx, entityType.Collection(), revived); err != nil {
		return nil, asDomainError(err)
	}
	s.indexDoc(revived)
	s.log.Info().Str("type", string(entityType)).Str("id", canonicalID).
		Str("user", user.Name).Msg("restored deleted metadata")
	return s.Get(ctx, entityType, canonicalID)
}

// RestoreRevision replaces the Active body of a live lineage with an
// archived one, through the normal update path.
func (s *Service) RestoreRevision(ctx context.Context, entityType store.EntityType, revisionID string, user hooks.User) (*store.MetaData, error) {
	archived, err := s.store.FindByID(ctx, entityType.RevisionCollection(), revisionID)
	if err != nil {
		return nil, asDomainError(err)
	}
	current, err := s.store.FindByID(ctx, entityType.Collection(), archived.Revision.ParentID)
	if err != nil {
		return nil, asDomainError(err)
	}
	candidate := reviveFromRevision(archived)
	candidate.ID = current.ID
	candidate.Version = current.Version
	candidate.Data["revisionnote"] = fmt.Sprintf("restored revision %d", archived.Revision.Number)
	return s.Update(ctx, candidate, user, false)
}

// KeyDeleteResult reports one document touched by DeleteMetaDataKey.
type KeyDeleteResult struct {
	EntityID string `json:"entityid"`
	Error    string `json:"error,omitempty"`
}

// DeleteMetaDataKey removes one metaDataFields key from every document of a
// type that carries it, each through the normal revisioning update path.
// Failures are reported per document without rolling back earlier
// successes.
func (s *Service) DeleteMetaDataKey(ctx context.Context, entityType store.EntityType, key string, user hooks.User) ([]KeyDeleteResult, error) {
	docs, err := s.store.Find(ctx, entityType.Collection(), store.Query{HasMetaDataField: key})
	if err != nil {
		return nil, asDomainError(err)
	}
	results := make([]KeyDeleteResult, 0, len(docs))
	for _, doc := range docs {
		next := doc.DeepCopy()
		delete(next.MetaDataFields(), key)
		next.Data["revisionnote"] = "removed metadata field " + key
		result := KeyDeleteResult{EntityID: doc.EntityID()}
		if _, err := s.Update(ctx, next, user, false); err != nil {
			result.Error = err.Error()
		}
		results = append(results, result)
	}
	return results, nil
}

// RecentActivity lists the latest revised documents per requested type.
func (s *Service) RecentActivity(ctx context.Context, types []store.EntityType, limit int) ([]*store.MetaData, error) {
	if limit <= 0 {
		limit = 25
	}
	collected := make([]*store.MetaData, 0)
	for _, entityType := range types {
		docs, err := s.store.Find(ctx, entityType.Collection(), store.Query{})
		if err != nil {
			return nil, asDomainError(err)
		}
		collected = append(collected, docs...)
	}
	sort.Slice(collected, func(i, j int) bool {
		return collected[i].Revision.Created.After(collected[j].Revision.Created)
	})
	if len(collected) > limit {
		collected = collected[:limit]
	}
	return collected, nil
}

// CascadeUpdate persists a revision-stamped update to a document touched by
// a hook cascade. It bypasses the hook chain: cascades are mechanical
// reference rewrites, not user edits.
func (s *Service) CascadeUpdate(ctx context.Context, doc *store.MetaData, updatedBy, revisionNote string) error {
	collection := doc.Type.Collection()
	current, err := s.store.FindByID(ctx, collection, doc.ID)
	if err != nil {
		return err
	}
	archived := archiveCurrent(current)
	if err := s.store.Save(ctx, doc.Type.RevisionCollection(), archived); err != nil {
		return err
	}
	next := doc.DeepCopy()
	next.Data["revisionnote"] = revisionNote
	promote(next, current, archived, updatedBy, time.Now().UTC())
	next.Version = current.Version
	if err := s.store.Update(ctx, collection, next); err != nil {
		if removeErr := s.store.Remove(ctx, doc.Type.RevisionCollection(), archived.ID); removeErr != nil {
			s.log.Warn().Err(removeErr).Str("id", archived.ID).Msg("could not remove archived revision after rejected cascade")
		}
		return err
	}
	s.indexDoc(next)
	return nil
}

func (s *Service) validate(ctx context.Context, doc *store.MetaData) (*store.MetaData, error) {
	doc, err := s.hooks.PreValidate(ctx, doc)
	if err != nil {
		return nil, s.hookFailure(err)
	}
	if err := s.registry.Validate(doc.Type, doc.Data); err != nil {
		return nil, asDomainError(err)
	}
	return doc, nil
}

func (s *Service) hookFailure(err error) error {
	domain := asDomainError(err)
	if domain.Status < 500 {
		s.metrics.HookFailures.WithLabelValues(domain.Code).Inc()
	}
	return domain
}

func (s *Service) indexDoc(doc *store.MetaData) {
	if s.search != nil {
		s.search.IndexMetaData(doc)
	}
}

// Name resolution helper shared by http handlers.
func DisplayName(doc *store.MetaData) string {
	for _, key := range []string{"name:en", "name:nl"} {
		if name := doc.StringField(key); name != "" {
			return name
		}
	}
	if name, ok := doc.Data["name"].(string); ok && name != "" {
		return name
	}
	return doc.EntityID()
}

// typeFromPath parses "/metadata/{type}/..." style segments.
func typeFromPath(segment string) (store.EntityType, error) {
	entityType, ok := store.ParseEntityType(strings.TrimSpace(segment))
	if !ok {
		return "", domainError(400, "ValidationFailure", "unknown entity type "+segment, nil)
	}
	return entityType, nil
}
