package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/client/auth"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
)

type HTTPBackend struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
}

func NewHTTPBackend(baseURL string, tokens auth.TokenSource, httpClient *http.Client) *HTTPBackend {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), tokens: tokens, http: httpClient}
}

type bulkRequest struct {
	Operations []Operation `json:"operations"`
}

type updatePhotosRequest struct {
	Existing []string   `json:"existing"`
	New      []NewPhoto `json:"new"`
}

type updatePhotosResponse struct {
	URLs map[string]string `json:"urls"`
}

type deletePhotoRequest struct {
	URL string `json:"url"`
}

func (b *HTTPBackend) call(ctx context.Context, method, path string, in, out any) error {
	token, err := b.tokens.Token(ctx)
	if err != nil {
		return &CallError{Outcome: OutcomeAuthPause, Err: fmt.Errorf("%w: %w", ErrUnauthorized, err)}
	}

	err = netx.DoJSON(ctx, b.http, method, b.baseURL+path, token, in, out)
	if err == nil {
		return nil
	}
	if isCanceled(ctx, err) {
		return err
	}

	var se *netx.StatusError
	if errors.As(err, &se) {
		return NewStatusError(se.Code, fmt.Errorf("%s %s: %w", method, path, err))
	}
	return &CallError{Outcome: OutcomeRetryable, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
}

func syncPath(table, id string) string {
	return "/sync/" + url.PathEscape(table) + "/" + url.PathEscape(id)
}

func (b *HTTPBackend) Sync(ctx context.Context, op Operation) error {
	method := op.Op.Method()
	if method == "" {
		return &CallError{Outcome: OutcomeBusinessReject, Err: fmt.Errorf("%w: unknown op %q", ErrRejected, op.Op)}
	}
	if len(op.Data) > 0 && !json.Valid(op.Data) {
		return &CallError{Outcome: OutcomeBusinessReject, Err: fmt.Errorf("%w: invalid data for %s/%s", ErrRejected, op.Table, op.ID)}
	}
	var body any
	if method != http.MethodDelete {
		body = op.Data
		if op.Data == nil {
			body = struct{}{}
		}
	}
	return b.call(ctx, method, syncPath(op.Table, op.ID), body, nil)
}

func (b *HTTPBackend) SyncBulk(ctx context.Context, ops []Operation) error {
	if len(ops) == 0 {
		return nil
	}
	return b.call(ctx, http.MethodPost, "/sync", bulkRequest{Operations: ops}, nil)
}

func (b *HTTPBackend) UpdatePhotos(ctx context.Context, scheduleID string, existing []string, added []NewPhoto) (map[string]string, error) {
	if existing == nil {
		existing = []string{}
	}
	if added == nil {
		added = []NewPhoto{}
	}
	var resp updatePhotosResponse
	path := "/schedules/" + url.PathEscape(scheduleID) + "/update-photos"
	if err := b.call(ctx, http.MethodPost, path, updatePhotosRequest{Existing: existing, New: added}, &resp); err != nil {
		return nil, err
	}
	if resp.URLs == nil {
		resp.URLs = map[string]string{}
	}
	return resp.URLs, nil
}

func (b *HTTPBackend) DeletePhoto(ctx context.Context, photoURL string) error {
	return b.call(ctx, http.MethodPost, "/photos/delete", deletePhotoRequest{URL: photoURL}, nil)
}

func (b *HTTPBackend) Ping(ctx context.Context) error {
	err := netx.DoJSON(ctx, b.http, http.MethodGet, b.baseURL+"/healthz", "", nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (b *HTTPBackend) Close() error {
	b.http.CloseIdleConnections()
	return nil
}
