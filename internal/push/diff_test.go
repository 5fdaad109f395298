package push

import (
	"reflect"
	"testing"
)

func TestDiffDetectsChanges(t *testing.T) {
	before := Snapshot{
		"https://kept.example": {
			"id":        int64(1),
			"entity_id": "https://kept.example",
			"name_en":   "Old name",
			"state":     "prodaccepted",
		},
		"https://removed.example": {
			"id":        int64(2),
			"entity_id": "https://removed.example",
		},
	}
	after := Snapshot{
		"https://kept.example": {
			"id":        int64(9),
			"entity_id": "https://kept.example",
			"name_en":   "New name",
			"state":     "prodaccepted",
		},
		"https://created.example": {
			"id":        int64(3),
			"entity_id": "https://created.example",
		},
	}

	deltas := Diff(before, after)
	want := []Delta{
		{EntityID: "https://created.example", Column: "*", After: "created"},
		{EntityID: "https://kept.example", Column: "name_en", Before: "Old name", After: "New name"},
		{EntityID: "https://removed.example", Column: "*", Before: "removed"},
	}
	if !reflect.DeepEqual(deltas, want) {
		t.Fatalf("deltas = %+v, want %+v", deltas, want)
	}
}

func TestDiffIgnoresVolatileColumns(t *testing.T) {
	before := Snapshot{"https://sp.example": {
		"id":              int64(1),
		"name_id_formats": "a:b",
		"entity_id":       "https://sp.example",
	}}
	after := Snapshot{"https://sp.example": {
		"id":              int64(7),
		"name_id_formats": "c:d",
		"entity_id":       "https://sp.example",
	}}
	if deltas := Diff(before, after); len(deltas) != 0 {
		t.Fatalf("volatile columns reported: %+v", deltas)
	}
}

func TestDiffEmptySnapshots(t *testing.T) {
	if deltas := Diff(Snapshot{}, Snapshot{}); len(deltas) != 0 {
		t.Fatalf("empty snapshots must produce no deltas: %v", deltas)
	}
}
