// Package models defines the core data structures used throughout picstash
// including image records and analysis labels.
package models

import "time"

// Label is a single AI-derived annotation for an image: a free-text
// description plus the model's confidence in it.
type Label struct {
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// ImageRecord is the metadata entry for one uploaded image. It references
// the stored blob by ID but never owns it; the blob and the record are
// created and deleted by the ingestion coordinator as a pair.
//
// Caption is the only field that may change after creation.
type ImageRecord struct {
	ID          string    `json:"id"`
	BlobID      string    `json:"blob_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Caption     string    `json:"caption"`
	Tags        []string  `json:"tags"`
	Labels      []Label   `json:"labels"`
	UploadedAt  time.Time `json:"uploaded_at"`

	// Seq is the metastore insertion counter, used only to break
	// ordering ties between records with identical timestamps.
	Seq uint64 `json:"-"`
}

// TagsFromLabels derives the tag set from label descriptions, dropping
// empty entries and duplicates while keeping first-seen order.
func TagsFromLabels(labels []Label) []string {
	seen := make(map[string]bool, len(labels))
	var tags []string
	for _, l := range labels {
		if l.Description == "" || seen[l.Description] {
			continue
		}
		seen[l.Description] = true
		tags = append(tags, l.Description)
	}
	return tags
}
