// Package models defines the client-side data models of the sync agent.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// AttachmentState is the lifecycle state of a queued attachment. A removed
// attachment has no row at all.
type AttachmentState string

const (
	StateQueuedUpload AttachmentState = "QUEUED_UPLOAD"
	StateQueuedSync   AttachmentState = "QUEUED_SYNC"
	StateSynced       AttachmentState = "SYNCED"
)

// Pending reports whether the state still needs the uploader.
func (s AttachmentState) Pending() bool {
	return s == StateQueuedUpload || s == StateQueuedSync
}

// PhotoType classifies a captured image.
type PhotoType string

const (
	PhotoBefore    PhotoType = "before"
	PhotoAfter     PhotoType = "after"
	PhotoSignature PhotoType = "signature"
	PhotoEstimate  PhotoType = "estimate"
)

func (t PhotoType) Valid() bool {
	switch t {
	case PhotoBefore, PhotoAfter, PhotoSignature, PhotoEstimate:
		return true
	}
	return false
}

// IsSignature reports whether the image must be kept lossless.
func (t PhotoType) IsSignature() bool { return t == PhotoSignature }

// AttachmentRecord is one captured file waiting for (or done with) upload.
// LocalPath is relative to the private attachment directory.
type AttachmentRecord struct {
	ID           string
	Filename     string
	LocalPath    string
	MediaType    string
	Size         *int64
	State        AttachmentState
	ScheduleID   string
	PhotoType    PhotoType
	TechnicianID string
	JobTitle     string
	StartDate    string
	SignerName   string
	Attempts     int
	LastError    string
	CreatedAt    time.Time
}

// FilenameFor builds the on-disk name of an attachment: the id plus the
// extension matching its media type.
func FilenameFor(id, mediaType string) string {
	return id + ExtensionFor(mediaType)
}

// ExtensionFor maps the media types the preparer emits to file extensions.
func ExtensionFor(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ".bin"
	}
}

// Ext returns the record's file extension including the dot.
func (a *AttachmentRecord) Ext() string {
	return filepath.Ext(a.Filename)
}
