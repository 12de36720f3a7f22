package models

import "time"

// Photo is the domain record a captured attachment belongs to. Its ID equals
// the attachment ID. RemoteURL stays empty until reconciliation and is never
// overwritten afterwards.
type Photo struct {
	ID           string
	ScheduleID   string
	Type         PhotoType
	TechnicianID string
	Timestamp    time.Time
	SignerName   string
	RemoteURL    string
}

// Schedule is a field-service job.
type Schedule struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	StartDate    string    `json:"startDate"`
	TechnicianID string    `json:"technicianId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AddPhotoOperation is an insert-only reconciliation entry written when an
// upload succeeded.
type AddPhotoOperation struct {
	ID           string
	ScheduleID   string
	PhotoID      string
	Timestamp    time.Time
	TechnicianID string
	Type         PhotoType
	RemoteURL    string
	AttachmentID string
	SignerName   string
}

// DeletePhotoOperation is an insert-only reconciliation entry written when a
// photo was removed locally.
type DeletePhotoOperation struct {
	ID           string
	ScheduleID   string
	PhotoID      string
	Timestamp    time.Time
	TechnicianID string
	Type         PhotoType
}
