package hooks

import (
	"context"
	"reflect"

	"metaman/api/internal/store"
	"metaman/api/internal/validation"
)

// EmptyRevisionHook rejects an update whose data is field-for-field equal to
// the previous revision, ignoring the revision note. No-op revisions only
// pollute the history.
type EmptyRevisionHook struct {
	BaseHook
}

func NewEmptyRevisionHook() *EmptyRevisionHook { return &EmptyRevisionHook{} }

func (h *EmptyRevisionHook) Name() string { return "EmptyRevisionHook" }

func (h *EmptyRevisionHook) PrePut(_ context.Context, previous, doc *store.MetaData, _ User) (*store.MetaData, error) {
	if previous == nil {
		return doc, nil
	}
	before := previous.DeepCopy().Data
	after := doc.DeepCopy().Data
	delete(before, "revisionnote")
	delete(after, "revisionnote")
	if reflect.DeepEqual(before, after) {
		return nil, validation.Failf("", "no data was changed; refusing to create an empty revision")
	}
	return doc, nil
}
