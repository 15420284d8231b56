package models

import "time"

// ExtractInfo describes an unpacked product archive.
type ExtractInfo struct {
	ArchivePath    string    `json:"archive_path" yaml:"archive_path"`
	Destination    string    `json:"destination" yaml:"destination"`
	Files          int       `json:"files" yaml:"files"`
	ExtractedBytes int64     `json:"extracted_bytes" yaml:"extracted_bytes"`
	ExtractedAt    time.Time `json:"extracted_at" yaml:"extracted_at"`
}
