package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"metaman/api/internal/config"
	"metaman/api/internal/hooks"
	"metaman/api/internal/metrics"
	"metaman/api/internal/schema"
	"metaman/api/internal/secrets"
	"metaman/api/internal/store"
)

var tester = hooks.User{Name: "tester"}

func newTestService(t *testing.T) *Service {
	t.Helper()
	registry, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	cfg := config.Config{Environment: "dev"}
	m := metrics.New(prometheus.NewRegistry())
	return New(cfg, store.NewMemoryStore(), registry, nil, secrets.New("test-key"), m, zerolog.Nop())
}

func spData(entityID string) map[string]any {
	return map[string]any{
		"entityid": entityID,
		"state":    "prodaccepted",
		"metaDataFields": map[string]any{
			"name:en":                             "Example SP",
			"AssertionConsumerService:0:Location": "https://sp.example/acs",
			"AssertionConsumerService:0:index":    float64(0),
		},
	}
}

func createSP(t *testing.T, service *Service, entityID string) *store.MetaData {
	t.Helper()
	doc, err := service.Create(context.Background(), &store.MetaData{
		Type: store.ServiceProvider,
		Data: spData(entityID),
	}, tester, false)
	if err != nil {
		t.Fatalf("create %s: %v", entityID, err)
	}
	return doc
}

func domainStatus(t *testing.T, err error) int {
	t.Helper()
	var domain *DomainError
	if !errors.As(err, &domain) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	return domain.Status
}

func TestCreateStampsRevisionZero(t *testing.T) {
	service := newTestService(t)
	doc := createSP(t, service, "https://sp.example")

	if doc.ID == "" {
		t.Fatalf("created document has no id")
	}
	if doc.Revision.Number != 0 || !doc.Revision.IsLatest {
		t.Fatalf("revision = %+v, want number 0 and isLatest", doc.Revision)
	}
	if doc.Revision.UpdatedBy != "tester" {
		t.Fatalf("updatedBy = %q", doc.Revision.UpdatedBy)
	}

	got, err := service.Get(context.Background(), store.ServiceProvider, doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.EntityID() != "https://sp.example" {
		t.Fatalf("entityid = %q", got.EntityID())
	}
}

func TestCreateWithExcludeFromPushRequired(t *testing.T) {
	service := newTestService(t)
	doc, err := service.Create(context.Background(), &store.MetaData{
		Type: store.ServiceProvider,
		Data: spData("https://excluded.example"),
	}, tester, true)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !doc.BoolField("coin:exclude_from_push") {
		t.Fatalf("exclude flag not forced on create")
	}
}

func TestUpdateArchivesPreviousRevision(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	next := created.DeepCopy()
	next.MetaDataFields()["name:en"] = "Renamed SP"
	updated, err := service.Update(ctx, next, tester, false)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Revision.Number != 1 {
		t.Fatalf("revision number = %d, want 1", updated.Revision.Number)
	}
	if updated.StringField("name:en") != "Renamed SP" {
		t.Fatalf("update lost the change")
	}

	revisions, err := service.Revisions(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revisions) != 1 {
		t.Fatalf("archived revisions = %d, want 1", len(revisions))
	}
	archived := revisions[0]
	if archived.Revision.Number != 0 || archived.Revision.IsLatest {
		t.Fatalf("archived revision = %+v", archived.Revision)
	}
	if archived.StringField("name:en") != "Example SP" {
		t.Fatalf("archive does not hold the previous body")
	}
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	first := created.DeepCopy()
	first.MetaDataFields()["name:en"] = "First writer"
	if _, err := service.Update(ctx, first, tester, false); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale := created.DeepCopy()
	stale.MetaDataFields()["name:en"] = "Second writer"
	_, err := service.Update(ctx, stale, tester, false)
	if status := domainStatus(t, err); status != 409 {
		t.Fatalf("stale update status = %d, want 409", status)
	}
}

func TestUpdateStaleVersionLeavesHistoryIntact(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	first := created.DeepCopy()
	first.MetaDataFields()["name:en"] = "First writer"
	if _, err := service.Update(ctx, first, tester, false); err != nil {
		t.Fatalf("first update: %v", err)
	}

	stale := created.DeepCopy()
	stale.MetaDataFields()["name:en"] = "Second writer"
	if _, err := service.Update(ctx, stale, tester, false); err == nil {
		t.Fatalf("stale update must conflict")
	}

	revisions, err := service.Revisions(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revisions) != 1 || revisions[0].Revision.Number != 0 {
		t.Fatalf("rejected update touched the shadow collection: %d revisions", len(revisions))
	}

	current, err := service.Get(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second := current.DeepCopy()
	second.MetaDataFields()["name:en"] = "Second writer"
	updated, err := service.Update(ctx, second, tester, false)
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if updated.Revision.Number != 2 {
		t.Fatalf("active revision number = %d, want 2", updated.Revision.Number)
	}

	revisions, err = service.Revisions(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	numbers := make([]int, 0, len(revisions))
	for _, revision := range revisions {
		numbers = append(numbers, revision.Revision.Number)
	}
	if len(numbers) != 2 || numbers[0] != 0 || numbers[1] != 1 {
		t.Fatalf("archived revision numbers = %v, want [0 1]", numbers)
	}
}

func TestUpdateForcesExcludeFlagOnIdenticalBody(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	same := created.DeepCopy()
	updated, err := service.Update(ctx, same, tester, true)
	if err != nil {
		t.Fatalf("update with forced exclusion: %v", err)
	}
	if !updated.BoolField("coin:exclude_from_push") {
		t.Fatalf("exclude flag not applied")
	}
	if updated.Revision.Number != 1 {
		t.Fatalf("revision number = %d, want 1", updated.Revision.Number)
	}
}

func TestUpdateIdenticalBodyRejected(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	same := created.DeepCopy()
	same.Data["revisionnote"] = "no actual change"
	_, err := service.Update(ctx, same, tester, false)
	if status := domainStatus(t, err); status != 400 {
		t.Fatalf("identical update status = %d, want 400", status)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	if _, err := service.CreateChangeRequest(ctx, &store.ChangeRequest{
		Type:        store.ServiceProvider,
		MetaDataID:  created.ID,
		PathUpdates: map[string]any{"metaDataFields.name:en": "Pending"},
	}, tester); err != nil {
		t.Fatalf("create change request: %v", err)
	}

	if err := service.Delete(ctx, store.ServiceProvider, created.ID, tester, "decommissioned"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := service.Get(ctx, store.ServiceProvider, created.ID)
	if status := domainStatus(t, err); status != 404 {
		t.Fatalf("get after delete status = %d, want 404", status)
	}

	revisions, err := service.Revisions(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	if len(revisions) != 2 {
		t.Fatalf("revisions after delete = %d, want archived body plus tombstone", len(revisions))
	}
	tombstone := revisions[1]
	if !tombstone.Revision.Terminated {
		t.Fatalf("last revision not terminated: %+v", tombstone.Revision)
	}
	if tombstone.StringField("name:en") != "" {
		t.Fatalf("tombstone must not carry the metadata body")
	}
	if note, _ := tombstone.Data["revisionnote"].(string); note != "decommissioned" {
		t.Fatalf("tombstone note = %q", note)
	}

	pending, err := service.ChangeRequests(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("change requests: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("change requests survived the delete: %d", len(pending))
	}
}

func TestMergeUpdateOutsideMetaDataFieldsIsNoOp(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	result, err := service.MergeUpdate(ctx, store.ServiceProvider, created.ID,
		map[string]any{"notes": "internal remark"}, tester, "")
	if err != nil {
		t.Fatalf("merge update: %v", err)
	}
	if result.Changed {
		t.Fatalf("change outside metaDataFields must not commit a revision")
	}

	current, err := service.Get(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.Revision.Number != 0 {
		t.Fatalf("revision bumped by a no-op merge")
	}
}

func TestMergeUpdateCommitsFieldChanges(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	result, err := service.MergeUpdate(ctx, store.ServiceProvider, created.ID, map[string]any{
		"metaDataFields.name:en": "Merged name",
		"metaDataFields.name:nl": nil,
	}, tester, "merged by test")
	if err != nil {
		t.Fatalf("merge update: %v", err)
	}
	if !result.Changed || result.MetaData == nil {
		t.Fatalf("field change did not commit: %+v", result)
	}
	if result.MetaData.Revision.Number != 1 {
		t.Fatalf("revision number = %d, want 1", result.MetaData.Revision.Number)
	}
	if result.MetaData.StringField("name:en") != "Merged name" {
		t.Fatalf("merge lost the value")
	}
}

func TestRestoreRevision(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	next := created.DeepCopy()
	next.MetaDataFields()["name:en"] = "Version two"
	if _, err := service.Update(ctx, next, tester, false); err != nil {
		t.Fatalf("update: %v", err)
	}

	revisions, err := service.Revisions(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	restored, err := service.RestoreRevision(ctx, store.ServiceProvider, revisions[0].ID, tester)
	if err != nil {
		t.Fatalf("restore revision: %v", err)
	}
	if restored.StringField("name:en") != "Example SP" {
		t.Fatalf("restore did not bring the old body back")
	}
	if restored.Revision.Number != 2 {
		t.Fatalf("restore must go through the normal revision path, got %d", restored.Revision.Number)
	}
	if note, _ := restored.Data["revisionnote"].(string); note != "restored revision 0" {
		t.Fatalf("revision note = %q", note)
	}
}

func TestRestoreDeleted(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	created := createSP(t, service, "https://sp.example")

	live := createSP(t, service, "https://live.example")
	liveNext := live.DeepCopy()
	liveNext.MetaDataFields()["name:en"] = "Still here"
	if _, err := service.Update(ctx, liveNext, tester, false); err != nil {
		t.Fatalf("update: %v", err)
	}
	liveRevisions, err := service.Revisions(ctx, store.ServiceProvider, live.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	_, err = service.RestoreDeleted(ctx, store.ServiceProvider, liveRevisions[0].ID, tester)
	if err == nil || !strings.Contains(err.Error(), "still active") {
		t.Fatalf("restoreDeleted on a live lineage must fail, got %v", err)
	}

	if err := service.Delete(ctx, store.ServiceProvider, created.ID, tester, ""); err != nil {
		t.Fatalf("delete: %v", err)
	}
	revisions, err := service.Revisions(ctx, store.ServiceProvider, created.ID)
	if err != nil {
		t.Fatalf("revisions: %v", err)
	}
	archived := revisions[0]

	restored, err := service.RestoreDeleted(ctx, store.ServiceProvider, archived.ID, tester)
	if err != nil {
		t.Fatalf("restore deleted: %v", err)
	}
	if restored.ID != created.ID {
		t.Fatalf("restored lineage id = %q, want %q", restored.ID, created.ID)
	}
	if restored.Revision.Number != 2 {
		t.Fatalf("restored revision number = %d, want past the tombstone", restored.Revision.Number)
	}
	if restored.EntityID() != "https://sp.example" {
		t.Fatalf("restored entityid = %q", restored.EntityID())
	}
	if note, _ := restored.Data["revisionnote"].(string); note != "restored deleted entity from revision 0" {
		t.Fatalf("revision note = %q", note)
	}
}

func TestDeleteMetaDataKey(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)

	first := spData("https://one.example")
	first["metaDataFields"].(map[string]any)["coin:legacy_flag"] = true
	if _, err := service.Create(ctx, &store.MetaData{Type: store.ServiceProvider, Data: first}, tester, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := spData("https://two.example")
	second["metaDataFields"].(map[string]any)["coin:legacy_flag"] = false
	if _, err := service.Create(ctx, &store.MetaData{Type: store.ServiceProvider, Data: second}, tester, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	createSP(t, service, "https://untouched.example")

	results, err := service.DeleteMetaDataKey(ctx, store.ServiceProvider, "coin:legacy_flag", tester)
	if err != nil {
		t.Fatalf("delete key: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("touched %d documents, want 2", len(results))
	}
	for _, result := range results {
		if result.Error != "" {
			t.Fatalf("document %s failed: %s", result.EntityID, result.Error)
		}
	}

	docs, err := service.Store().Find(ctx, store.ServiceProvider.Collection(), store.Query{
		HasMetaDataField: "coin:legacy_flag",
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("key still present on %d documents", len(docs))
	}
}

func TestRecentActivity(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)

	createSP(t, service, "https://one.example")
	second := createSP(t, service, "https://two.example")

	next := second.DeepCopy()
	next.MetaDataFields()["name:en"] = "Most recent"
	if _, err := service.Update(ctx, next, tester, false); err != nil {
		t.Fatalf("update: %v", err)
	}

	recent, err := service.RecentActivity(ctx, []store.EntityType{store.ServiceProvider}, 0)
	if err != nil {
		t.Fatalf("recent activity: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("recent = %d, want 2", len(recent))
	}
	if recent[0].ID != second.ID {
		t.Fatalf("latest revision must sort first")
	}

	limited, err := service.RecentActivity(ctx, []store.EntityType{store.ServiceProvider}, 1)
	if err != nil {
		t.Fatalf("recent activity: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit not applied: %d", len(limited))
	}
}

func TestCreateDuplicateEntityIDAcrossGroup(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t)
	createSP(t, service, "https://shared.example")

	_, err := service.Create(ctx, &store.MetaData{
		Type: store.RelyingParty,
		Data: map[string]any{
			"entityid": "https://shared.example",
			"state":    "prodaccepted",
			"metaDataFields": map[string]any{
				"name:en":      "Clashing RP",
				"grants":       []any{"authorization_code"},
				"redirectUrls": []any{"https://shared.example/redirect"},
			},
		},
	}, tester, false)
	var domain *DomainError
	if !errors.As(err, &domain) || domain.Code != "DuplicateEntityId" {
		t.Fatalf("expected DuplicateEntityId, got %v", err)
	}
}
