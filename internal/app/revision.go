package app

import (
	"time"

	"metaman/api/internal/store"
	"metaman/api/internal/util"
)

// Revisioning state machine. Every logical entity lineage has exactly one
// Active body (isLatest=true, primary collection); superseded bodies move to
// the revision-shadow collection with isLatest=false, and deletion leaves a
// terminated tombstone there.

// newRevision stamps a freshly created document: revision 0, no parent.
func newRevision(doc *store.MetaData, updatedBy string, now time.Time) {
	doc.ID = util.NewID("")
	doc.Version = 0
	doc.Revision = store.Revision{
		Number:    0,
		Created:   now,
		UpdatedBy: updatedBy,
		IsLatest:  true,
	}
}

// archiveCurrent derives the shadow-collection copy of the current Active
// body. The archived copy gets a fresh id (the canonical id stays with the
// lineage) and keeps its revision number.
func archiveCurrent(current *store.MetaData) *store.MetaData {
	archived := current.DeepCopy()
	archived.ID = util.NewID("")
	archived.Version = 0
	archived.Revision.IsLatest = false
	archived.Revision.ParentID = current.ID
	return archived
}

// promote turns the submitted body into the next Active revision on top of
// the archived predecessor.
func promote(next, current, archived *store.MetaData, updatedBy string, now time.Time) {
	next.ID = current.ID
	next.Type = current.Type
	next.Version = current.Version
	next.Revision = store.Revision{
		Number:    current.Revision.Number + 1,
		Created:   now,
		UpdatedBy: updatedBy,
		ParentID:  archived.ID,
		IsLatest:  true,
	}
}

// terminalRevision builds the tombstone written after the Active slot is
// removed from the primary collection.
func terminalRevision(current *store.MetaData, updatedBy, note string, now time.Time) *store.MetaData {
	tombstone := current.DeepCopy()
	tombstone.ID = util.NewID("")
	tombstone.Version = 0
	tombstone.Data = map[string]any{
		"entityid":       current.EntityID(),
		"state":          current.State(),
		"metaDataFields": map[string]any{},
	}
	if note != "" {
		tombstone.Data["revisionnote"] = note
	}
	tombstone.Revision = store.Revision{
		Number:     current.Revision.Number + 1,
		Created:    now,
		UpdatedBy:  updatedBy,
		ParentID:   current.ID,
		Terminated: true,
	}
	return tombstone
}

// reviveFromRevision derives a fresh Active candidate from an archived or
// terminated body. The caller revalidates it against the current schema and
// runs it through the normal update or create path.
func reviveFromRevision(archived *store.MetaData) *store.MetaData {
	revived := archived.DeepCopy()
	revived.Version = 0
	revived.Revision.IsLatest = true
	revived.Revision.Terminated = false
	return revived
}
