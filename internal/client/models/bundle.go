package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PhotoBundleVersion is the schema version written by EncodePhotoBundle.
const PhotoBundleVersion = 3

var (
	// ErrCorruptBundle is wrapped by every failure to decode a stored bundle.
	ErrCorruptBundle        = errors.New("corrupt photo bundle")
	ErrUnknownBundleVersion = errors.New("unknown photo bundle version")
)

// BundlePhoto is one image referenced by a schedule's photo bundle. A photo is
// either a remote reference (URL set, Uploaded) or an inline payload waiting
// for the backend (Data set, not Uploaded).
type BundlePhoto struct {
	ID           string    `json:"id"`
	Type         PhotoType `json:"type,omitempty"`
	URL          string    `json:"url,omitempty"`
	Data         string    `json:"data,omitempty"`
	Uploaded     bool      `json:"uploaded"`
	TechnicianID string    `json:"technicianId,omitempty"`
	Timestamp    time.Time `json:"timestamp,omitzero"`
}

// Inline reports whether the photo still carries its own payload.
func (p BundlePhoto) Inline() bool { return !p.Uploaded && p.Data != "" }

// IntentKind is the kind of a pending bundle change.
type IntentKind string

const (
	IntentAdd    IntentKind = "add"
	IntentDelete IntentKind = "delete"
)

// PhotoIntent is a bundle change not yet confirmed by the backend.
type PhotoIntent struct {
	Kind    IntentKind `json:"kind"`
	PhotoID string     `json:"photoId"`
	URL     string     `json:"url,omitempty"`
	Type    PhotoType  `json:"type,omitempty"`
}

// PhotoBundle is the per-schedule collection of photos and signatures.
type PhotoBundle struct {
	ScheduleID string
	Photos     []BundlePhoto
	Pending    []PhotoIntent
}

type bundleV2Item struct {
	URL  string    `json:"url"`
	Data string    `json:"data"`
	Type PhotoType `json:"type"`
}

type bundleV3 struct {
	Version int           `json:"version"`
	Photos  []BundlePhoto `json:"photos"`
}

// DecodePhotoBundle normalizes any stored bundle payload into the current
// shape. Supported encodings:
//
//	v1: ["https://...", ...]
//	v2: [{"url": "...", "data": "...", "type": "before"}, ...]
//	v3: {"version": 3, "photos": [...]}
//
// Legacy entries get a deterministic ID derived from their content, so
// decoding the same payload twice yields the same IDs.
func DecodePhotoBundle(raw []byte) ([]BundlePhoto, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var urls []string
		if err := json.Unmarshal(raw, &urls); err == nil {
			photos := make([]BundlePhoto, 0, len(urls))
			for _, u := range urls {
				photos = append(photos, BundlePhoto{ID: legacyID(u), URL: u, Uploaded: true})
			}
			return photos, nil
		}

		var items []bundleV2Item
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: v2 payload: %w", ErrCorruptBundle, err)
		}
		photos := make([]BundlePhoto, 0, len(items))
		for _, it := range items {
			key := it.URL
			if key == "" {
				key = it.Data
			}
			photos = append(photos, BundlePhoto{
				ID:       legacyID(key),
				Type:     it.Type,
				URL:      it.URL,
				Data:     it.Data,
				Uploaded: it.URL != "",
			})
		}
		return photos, nil

	case '{':
		var v bundleV3
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptBundle, err)
		}
		if v.Version != PhotoBundleVersion {
			return nil, fmt.Errorf("%w: %w: %d", ErrCorruptBundle, ErrUnknownBundleVersion, v.Version)
		}
		return v.Photos, nil
	}

	return nil, fmt.Errorf("%w: %w: unrecognized payload", ErrCorruptBundle, ErrUnknownBundleVersion)
}

// EncodePhotoBundle serializes photos in the current schema version.
func EncodePhotoBundle(photos []BundlePhoto) ([]byte, error) {
	if photos == nil {
		photos = []BundlePhoto{}
	}
	return json.Marshal(bundleV3{Version: PhotoBundleVersion, Photos: photos})
}

func legacyID(key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// RemoteURLs returns the URLs of photos already stored remotely.
func (b *PhotoBundle) RemoteURLs() []string {
	urls := make([]string, 0, len(b.Photos))
	for _, p := range b.Photos {
		if p.Uploaded && p.URL != "" {
			urls = append(urls, p.URL)
		}
	}
	return urls
}

// InlinePhotos returns photos that still carry their payload.
func (b *PhotoBundle) InlinePhotos() []BundlePhoto {
	var inline []BundlePhoto
	for _, p := range b.Photos {
		if p.Inline() {
			inline = append(inline, p)
		}
	}
	return inline
}

// Upsert adds p or replaces the photo with the same ID.
func (b *PhotoBundle) Upsert(p BundlePhoto) {
	for i := range b.Photos {
		if b.Photos[i].ID == p.ID {
			b.Photos[i] = p
			return
		}
	}
	b.Photos = append(b.Photos, p)
}

// Remove drops the photo with the given ID and returns it.
func (b *PhotoBundle) Remove(id string) (BundlePhoto, bool) {
	for i, p := range b.Photos {
		if p.ID == id {
			b.Photos = append(b.Photos[:i], b.Photos[i+1:]...)
			return p, true
		}
	}
	return BundlePhoto{}, false
}

// MarkUploaded replaces inline payloads with the URLs returned by the backend.
func (b *PhotoBundle) MarkUploaded(urls map[string]string) {
	for i := range b.Photos {
		if u, ok := urls[b.Photos[i].ID]; ok && u != "" {
			b.Photos[i].URL = u
			b.Photos[i].Data = ""
			b.Photos[i].Uploaded = true
		}
	}
}

// ConsumeIntents removes the first n pending intents. Intents appended after
// a replay started stay pending.
func (b *PhotoBundle) ConsumeIntents(n int) {
	if n >= len(b.Pending) {
		b.Pending = nil
		return
	}
	b.Pending = append([]PhotoIntent(nil), b.Pending[n:]...)
}
