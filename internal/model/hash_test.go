package model

import (
	"testing"
	"time"
)

func TestTaskListHash_Stable(t *testing.T) {
	tasks := []*Task{
		{ID: "t-1", Title: "Door width", Kind: KindMeasurement, Value: "82cm"},
		{ID: "t-2", Title: "Facade", Kind: KindPhoto, Images: []string{"https://blob/a.jpg"}},
	}

	h1 := TaskListHash(tasks)
	h2 := TaskListHash(tasks)
	if h1 != h2 {
		t.Errorf("hash not stable across runs: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Errorf("expected hex sha256, got %q", h1)
	}
}

func TestTaskListHash_IgnoresVolatileFields(t *testing.T) {
	base := []*Task{{ID: "t-1", Title: "Door width", Kind: KindMeasurement, Value: "82cm"}}

	touched := []*Task{{
		ID:        "t-1",
		Title:     "Door width",
		Kind:      KindMeasurement,
		Value:     "82cm",
		Local:     true,
		UpdatedAt: time.Now(),
	}}

	if TaskListHash(base) != TaskListHash(touched) {
		t.Errorf("hash changed although only volatile fields differ")
	}
}

func TestTaskListHash_DetectsContentChange(t *testing.T) {
	a := []*Task{{ID: "t-1", Title: "Door width", Kind: KindMeasurement, Value: "82cm"}}
	b := []*Task{{ID: "t-1", Title: "Door width", Kind: KindMeasurement, Value: "83cm"}}

	if TaskListHash(a) == TaskListHash(b) {
		t.Errorf("hash identical although task value changed")
	}
}

func TestTaskListHash_OrderSensitive(t *testing.T) {
	t1 := &Task{ID: "t-1", Title: "A", Kind: KindText, Value: "x"}
	t2 := &Task{ID: "t-2", Title: "B", Kind: KindText, Value: "y"}

	if TaskListHash([]*Task{t1, t2}) == TaskListHash([]*Task{t2, t1}) {
		t.Errorf("hash must preserve task order")
	}
}

func TestMediaKey(t *testing.T) {
	if got := MediaKey("t-1", KindPhoto, 2); got != "t-1/photo_2" {
		t.Errorf("MediaKey() = %q", got)
	}
}

func TestSyncState_ProjectStateLazyInit(t *testing.T) {
	state := NewSyncState()

	ps := state.ProjectState("p-1")
	if ps == nil {
		t.Fatal("expected lazily created project state")
	}
	ps.LastSyncedTasksHash = "abc"

	if state.Projects["p-1"].LastSyncedTasksHash != "abc" {
		t.Errorf("project state not retained on parent")
	}
	if state.ProjectState("p-1") != ps {
		t.Errorf("expected same project state on second access")
	}
}
