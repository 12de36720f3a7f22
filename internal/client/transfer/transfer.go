// Package transfer defines the capability the uploader uses to move prepared
// files to remote storage. Implementations live in the signed and presigned
// subpackages.
package transfer

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/fieldsync/internal/client/models"
)

var ErrMissingCredentials = errors.New("no transfer credentials for file")

// Request describes one file in a batched credential call.
type Request struct {
	FileName  string           `json:"fileName"`
	MediaType string           `json:"mediaType"`
	PhotoType models.PhotoType `json:"photoType"`
	JobTitle  string           `json:"jobTitle"`
	StartDate string           `json:"startDate"`
}

// Credential authorizes the transfer of one file.
type Credential struct {
	APIKey    string `json:"apiKey,omitempty"`
	Signature string `json:"signature,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Folder    string `json:"folder,omitempty"`
	CloudName string `json:"cloudName,omitempty"`
	UploadURL string `json:"uploadUrl,omitempty"`
	PublicID  string `json:"publicId,omitempty"`
	// PublicURL is known up front for presigned uploads.
	PublicURL string `json:"publicUrl,omitempty"`
}

// Capabilities is what a deployment plugs into the uploader.
type Capabilities interface {
	// FetchCredentials returns credentials keyed by Request.FileName. Files
	// missing from the result must not be transferred.
	FetchCredentials(ctx context.Context, reqs []Request) (map[string]Credential, error)
	// Transfer uploads the file at path and returns its remote URL.
	Transfer(ctx context.Context, path string, req Request, cred Credential) (string, error)
}

// RequestFor builds the credential request for a queued attachment.
func RequestFor(a *models.AttachmentRecord) Request {
	return Request{
		FileName:  a.Filename,
		MediaType: a.MediaType,
		PhotoType: a.PhotoType,
		JobTitle:  a.JobTitle,
		StartDate: a.StartDate,
	}
}
