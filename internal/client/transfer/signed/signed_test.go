package signed

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/fieldsync/internal/client/auth"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
)

func TestFetchCredentials_OneBatchedCall(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/uploads/credentials", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var in credentialsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Len(t, in.Files, 2)
		assert.Equal(t, models.PhotoBefore, in.Files[0].PhotoType)

		_ = json.NewEncoder(w).Encode(credentialsResponse{Credentials: map[string]transfer.Credential{
			"a.jpg": {APIKey: "k", Signature: "s", Timestamp: 1700000000, Folder: "jobs", CloudName: "demo"},
		}})
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "", auth.StaticSource("tok"), ts.Client())
	creds, err := c.FetchCredentials(context.Background(), []transfer.Request{
		{FileName: "a.jpg", MediaType: "image/jpeg", PhotoType: models.PhotoBefore},
		{FileName: "b.jpg", MediaType: "image/jpeg", PhotoType: models.PhotoAfter},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "demo", creds["a.jpg"].CloudName)
	_, ok := creds["b.jpg"]
	assert.False(t, ok)
}

func TestFetchCredentials_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	reqs := []transfer.Request{{FileName: "a.jpg"}}

	_, err := NewClient(ts.URL, "", auth.StaticSource(""), ts.Client()).FetchCredentials(context.Background(), reqs)
	require.ErrorIs(t, err, common.ErrNoSession)

	_, err = NewClient(ts.URL, "", auth.StaticSource("tok"), ts.Client()).FetchCredentials(context.Background(), reqs)
	var se *netx.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestTransfer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o600))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "k", r.FormValue("api_key"))
		assert.Equal(t, "s", r.FormValue("signature"))
		assert.Equal(t, "1700000000", r.FormValue("timestamp"))
		assert.Equal(t, "jobs", r.FormValue("folder"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		b, _ := io.ReadAll(f)
		assert.Equal(t, "jpeg-bytes", string(b))

		_, _ = io.WriteString(w, `{"secure_url":"https://cdn/demo/a.jpg"}`)
	}))
	defer ts.Close()

	c := NewClient("http://backend", ts.URL, auth.StaticSource("tok"), ts.Client())
	cred := transfer.Credential{APIKey: "k", Signature: "s", Timestamp: 1700000000, Folder: "jobs", CloudName: "demo"}

	url, err := c.Transfer(context.Background(), path, transfer.Request{FileName: "a.jpg"}, cred)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/demo/a.jpg", url)

	_, err = c.Transfer(context.Background(), path, transfer.Request{FileName: "a.jpg"}, transfer.Credential{})
	require.ErrorIs(t, err, transfer.ErrMissingCredentials)
}

func TestTransfer_UploadURLAndBadResponse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/custom", r.URL.Path)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer ts.Close()

	c := NewClient("http://backend", "", auth.StaticSource("tok"), ts.Client())
	_, err := c.Transfer(context.Background(), path, transfer.Request{FileName: "a.jpg"},
		transfer.Credential{APIKey: "k", Signature: "s", UploadURL: ts.URL + "/custom"})
	require.ErrorContains(t, err, "secure_url")
}

type issuerFunc func(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error)

func (f issuerFunc) FetchCredentials(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error) {
	return f(ctx, reqs)
}

func TestFetchCredentials_DelegatesToIssuer(t *testing.T) {
	c := NewClient("http://unused", "", auth.StaticSource(""), nil).WithIssuer(issuerFunc(
		func(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error) {
			return map[string]transfer.Credential{reqs[0].FileName: {APIKey: "grpc"}}, nil
		}))

	creds, err := c.FetchCredentials(context.Background(), []transfer.Request{{FileName: "a.jpg"}})
	require.NoError(t, err)
	assert.Equal(t, "grpc", creds["a.jpg"].APIKey)
}
