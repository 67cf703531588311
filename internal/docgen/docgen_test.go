package docgen

import (
	"os"
	"strings"
	"testing"

	"github.com/teamtrace/fieldsync/internal/model"
)

func readAndRemove(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read generated file: %v", err)
	}
	_ = os.Remove(path)
	return string(data)
}

func TestMeasurementSummary(t *testing.T) {
	tasks := []*model.Task{
		{ID: "t-1", Title: "Door width", Kind: model.KindMeasurement, Value: "82cm"},
		{ID: "t-2", Title: "Open item", Kind: model.KindMeasurement}, // incomplete, skipped
		{ID: "t-3", Title: "A note", Kind: model.KindText, Value: "n"},
	}

	path, err := New().MeasurementSummary("North wing", tasks)
	if err != nil {
		t.Fatalf("MeasurementSummary failed: %v", err)
	}
	content := readAndRemove(t, path)

	if !strings.Contains(content, "Door width") || !strings.Contains(content, "82cm") {
		t.Errorf("summary missing completed measurement: %q", content)
	}
	if strings.Contains(content, "Open item") {
		t.Errorf("summary contains incomplete measurement: %q", content)
	}
	if strings.Contains(content, "A note") {
		t.Errorf("summary contains text task: %q", content)
	}
}

func TestNoteSummary(t *testing.T) {
	tasks := []*model.Task{
		{ID: "t-1", Title: "Handover", Kind: model.KindText, Value: "keys in box"},
	}

	path, err := New().NoteSummary("North wing", tasks)
	if err != nil {
		t.Fatalf("NoteSummary failed: %v", err)
	}
	content := readAndRemove(t, path)

	if !strings.Contains(content, "keys in box") {
		t.Errorf("note summary missing note value: %q", content)
	}
}

func TestMediaMetadata_Deterministic(t *testing.T) {
	task := &model.Task{
		ID:             "t-1",
		Title:          "Facade",
		Kind:           model.KindPhoto,
		Images:         []string{"https://blob/a.jpg", "https://blob/b.jpg"},
		ImageLocations: []*model.GeoPoint{{Lat: 52.37, Lng: 4.89}, nil},
	}

	gen := New()
	p1, err := gen.MediaMetadata(task)
	if err != nil {
		t.Fatalf("MediaMetadata failed: %v", err)
	}
	p2, err := gen.MediaMetadata(task)
	if err != nil {
		t.Fatalf("second MediaMetadata failed: %v", err)
	}

	c1 := readAndRemove(t, p1)
	c2 := readAndRemove(t, p2)
	if c1 != c2 {
		t.Errorf("metadata not byte-identical across regenerations")
	}
	if !strings.Contains(c1, "52.37") {
		t.Errorf("metadata missing location: %q", c1)
	}
}
