// Package model provides the data structures shared by the fieldsync
// engines: tasks, projects, teams, queued edits, and per-team sync state.
//
// A Task is the unit of work inside a Project. Tasks carry kind-specific
// payloads (photo and video tasks hold ordered media references with
// parallel geolocation points, measurement and text tasks hold a single
// value). Projects belong to Teams; the authoritative copy of a Project
// lives in the remote document store and its task list is only ever
// replaced whole.
package model

import (
	"fmt"
	"time"
)

// Kind identifies the payload shape of a task. Immutable after creation.
type Kind string

const (
	// KindPhoto tasks collect an ordered sequence of image references.
	KindPhoto Kind = "photo"
	// KindVideo tasks collect an ordered sequence of video references.
	KindVideo Kind = "video"
	// KindMeasurement tasks collect a single measured value.
	KindMeasurement Kind = "measurement"
	// KindText tasks collect a single free-form note.
	KindText Kind = "text"
)

// Valid reports whether k is one of the known task kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPhoto, KindVideo, KindMeasurement, KindText:
		return true
	}
	return false
}

// GeoPoint is an optional capture location attached to a media item.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Task is a single work item inside a project.
//
// The Images/ImageLocations and Videos/VideoLocations slices are parallel:
// index i of the locations slice is the capture point of media item i, and
// a nil entry means no location was recorded.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind"`

	// Photo payload
	Images         []string    `json:"images,omitempty"`
	ImageLocations []*GeoPoint `json:"image_locations,omitempty"`

	// Video payload
	Videos         []string    `json:"videos,omitempty"`
	VideoLocations []*GeoPoint `json:"video_locations,omitempty"`

	// Measurement/text payload
	Value string `json:"value,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// Local marks a version that carries edits not yet confirmed merged
	// into the remote record. It is never written to the remote document.
	Local bool `json:"local,omitempty"`
}

// Validate checks that the task has the fields every engine relies on.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	return nil
}

// Completed reports whether the kind-appropriate payload is non-empty.
// Completion is derived, never stored.
func (t *Task) Completed() bool {
	switch t.Kind {
	case KindPhoto:
		return len(t.Images) > 0
	case KindVideo:
		return len(t.Videos) > 0
	case KindMeasurement, KindText:
		return t.Value != ""
	}
	return false
}

// MediaRefs returns the task's media reference slice for photo and video
// tasks, or nil for kinds without media payloads.
func (t *Task) MediaRefs() []string {
	switch t.Kind {
	case KindPhoto:
		return t.Images
	case KindVideo:
		return t.Videos
	}
	return nil
}

// SetMediaRefs replaces the task's media reference slice together with its
// parallel locations slice, keeping the two aligned.
func (t *Task) SetMediaRefs(refs []string, locs []*GeoPoint) {
	switch t.Kind {
	case KindPhoto:
		t.Images = refs
		t.ImageLocations = locs
	case KindVideo:
		t.Videos = refs
		t.VideoLocations = locs
	}
}

// MediaLocations returns the parallel locations slice for photo and video
// tasks. May be shorter than MediaRefs when no locations were recorded.
func (t *Task) MediaLocations() []*GeoPoint {
	switch t.Kind {
	case KindPhoto:
		return t.ImageLocations
	case KindVideo:
		return t.VideoLocations
	}
	return nil
}

// Clone returns a deep copy of the task. Engines mutate clones, never the
// caller's value.
func (t *Task) Clone() *Task {
	c := *t
	c.Images = append([]string(nil), t.Images...)
	c.Videos = append([]string(nil), t.Videos...)
	c.ImageLocations = cloneLocations(t.ImageLocations)
	c.VideoLocations = cloneLocations(t.VideoLocations)
	return &c
}

func cloneLocations(locs []*GeoPoint) []*GeoPoint {
	if locs == nil {
		return nil
	}
	out := make([]*GeoPoint, len(locs))
	for i, l := range locs {
		if l != nil {
			p := *l
			out[i] = &p
		}
	}
	return out
}

// MergeTask merges task into list by identity: replace the element with the
// same id if present, append otherwise. Order of existing elements is
// preserved, so the id-uniqueness invariant of a project task list holds as
// long as the input list held it.
func MergeTask(list []*Task, task *Task) []*Task {
	for i, existing := range list {
		if existing.ID == task.ID {
			out := append([]*Task(nil), list...)
			out[i] = task
			return out
		}
	}
	return append(append([]*Task(nil), list...), task)
}

// Project is the unit of mirroring and reconciliation. The authoritative
// copy lives in the remote document store; Tasks is only ever replaced
// whole (read-modify-write), never patched element-wise.
type Project struct {
	ID     string  `json:"id"`
	TeamID string  `json:"team_id"`
	Name   string  `json:"name"`
	Tasks  []*Task `json:"tasks"`
}

// Team groups projects. GroupName is the organizational unit shown as a
// folder level in the mirror tree.
type Team struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	GroupName string `json:"group_name,omitempty"`
}

// QueuedEdit is one entry of the local edit queue: a locally edited task
// plus the number of failed reconciliation attempts it has survived.
type QueuedEdit struct {
	Task       *Task `json:"task"`
	RetryCount int   `json:"retry_count"`
}
