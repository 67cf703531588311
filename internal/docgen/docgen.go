// Package docgen is the default summary document generator for the mirror
// engine. Measurement and note summaries are rendered as CSV; per-task
// media metadata is rendered as YAML.
//
// Each generator writes to a temporary file and returns its path. The
// mirror engine uploads the bytes and removes the file; the formats here
// only need to be stable so that unchanged content hashes equal across
// regenerations.
package docgen

import (
	"encoding/csv"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teamtrace/fieldsync/internal/model"
)

// Generator implements remote.DocumentGenerator.
type Generator struct{}

// New returns the default document generator.
func New() *Generator {
	return &Generator{}
}

// MeasurementSummary renders one CSV listing all completed measurement
// tasks of a project.
func (g *Generator) MeasurementSummary(projectName string, tasks []*model.Task) (string, error) {
	rows := [][]string{{"task", "description", "value"}}
	for _, t := range tasks {
		if t.Kind != model.KindMeasurement || !t.Completed() {
			continue
		}
		rows = append(rows, []string{t.Title, t.Description, t.Value})
	}
	return writeCSV(fmt.Sprintf("%s-measurements", projectName), rows)
}

// NoteSummary renders one CSV listing all completed text tasks of a
// project.
func (g *Generator) NoteSummary(projectName string, tasks []*model.Task) (string, error) {
	rows := [][]string{{"task", "description", "note"}}
	for _, t := range tasks {
		if t.Kind != model.KindText || !t.Completed() {
			continue
		}
		rows = append(rows, []string{t.Title, t.Description, t.Value})
	}
	return writeCSV(fmt.Sprintf("%s-notes", projectName), rows)
}

// mediaItem is one entry of the metadata document.
type mediaItem struct {
	Index       int     `yaml:"index"`
	Description string  `yaml:"description,omitempty"`
	Lat         float64 `yaml:"lat,omitempty"`
	Lng         float64 `yaml:"lng,omitempty"`
}

// mediaDoc is the YAML metadata document for one task's media set.
type mediaDoc struct {
	Task        string      `yaml:"task"`
	Kind        string      `yaml:"kind"`
	Description string      `yaml:"description,omitempty"`
	Items       []mediaItem `yaml:"items"`
}

// MediaMetadata renders the per-item metadata document for a photo or
// video task. Timestamps are deliberately excluded: regenerating the same
// content must produce byte-identical output so the hash gate can skip the
// upload.
func (g *Generator) MediaMetadata(task *model.Task) (string, error) {
	doc := mediaDoc{
		Task:        task.Title,
		Kind:        string(task.Kind),
		Description: task.Description,
	}

	locs := task.MediaLocations()
	for i := range task.MediaRefs() {
		item := mediaItem{Index: i, Description: task.Description}
		if i < len(locs) && locs[i] != nil {
			item.Lat = locs[i].Lat
			item.Lng = locs[i].Lng
		}
		doc.Items = append(doc.Items, item)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal media metadata for task %s: %w", task.ID, err)
	}

	f, err := os.CreateTemp("", "fieldsync-meta-*.yaml")
	if err != nil {
		return "", fmt.Errorf("failed to create metadata temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write metadata temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close metadata temp file: %w", err)
	}
	return f.Name(), nil
}

func writeCSV(name string, rows [][]string) (string, error) {
	f, err := os.CreateTemp("", "fieldsync-*.csv")
	if err != nil {
		return "", fmt.Errorf("failed to create summary temp file for %s: %w", name, err)
	}

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to write summary %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("failed to close summary temp file for %s: %w", name, err)
	}
	return f.Name(), nil
}
