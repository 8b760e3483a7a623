package domain

import (
	"slices"
	"strings"
)

// Status is the lifecycle state of a job
type Status string

// Job status constants
const (
	// StatusPending is part of the status vocabulary but never assigned; it reads as processing
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Normalize maps legacy labels onto the states jobs actually move through
func (s Status) Normalize() Status {
	if s == StatusPending {
		return StatusProcessing
	}
	return s
}

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Processing paths recorded on file outcomes
const (
	PathEnhanced = "enhanced"
	PathBatch    = "batch"
)

// LaytimeCountsField is the internal laytime-counting column carried on events
const LaytimeCountsField = "laytime_counts"

// AllowedExtensions is the upload allow-list, without leading dots
var AllowedExtensions = []string{"pdf", "docx", "doc", "txt", "png", "jpg", "jpeg", "tiff", "bmp", "webp"}

// Extension returns the lowercased text after the last dot, or the whole lowercased name when there is none
func Extension(filename string) string {
	lower := strings.ToLower(filename)
	if i := strings.LastIndex(lower, "."); i >= 0 {
		return lower[i+1:]
	}
	return lower
}

// IsAllowedExtension reports whether ext may be uploaded
func IsAllowedExtension(ext string) bool {
	return slices.Contains(AllowedExtensions, ext)
}
