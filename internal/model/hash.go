package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// normalizedTask is the subset of task fields that participate in change
// detection. Volatile and derived fields (timestamps, the local marker,
// retry bookkeeping) are deliberately excluded so that a mirror pass only
// sees changes that affect mirrored content.
type normalizedTask struct {
	ID          string      `json:"id"`
	Kind        Kind        `json:"kind"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Completed   bool        `json:"completed"`
	Media       []string    `json:"media,omitempty"`
	Locations   []*GeoPoint `json:"locations,omitempty"`
	Value       string      `json:"value,omitempty"`
}

// TaskListHash computes a stable content fingerprint over the normalized,
// order-preserving serialization of a task list. Two lists hash equal iff
// their mirrored content is identical.
func TaskListHash(tasks []*Task) string {
	norm := make([]normalizedTask, len(tasks))
	for i, t := range tasks {
		norm[i] = normalizedTask{
			ID:          t.ID,
			Kind:        t.Kind,
			Title:       t.Title,
			Description: t.Description,
			Completed:   t.Completed(),
			Media:       t.MediaRefs(),
			Locations:   t.MediaLocations(),
			Value:       t.Value,
		}
	}
	// Marshal cannot fail for this shape.
	data, _ := json.Marshal(norm)
	return ContentHash(data)
}

// ContentHash returns the hex-encoded SHA-256 of data. Used to gate
// re-uploads of generated documents whose bytes did not change.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
