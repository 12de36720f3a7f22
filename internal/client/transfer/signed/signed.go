// Package signed transfers attachments with per-file signatures issued by the
// backend and a multipart POST to the media host.
package signed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/fieldsync/internal/client/auth"
	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
)

type credentialsRequest struct {
	Files []transfer.Request `json:"files"`
}

type credentialsResponse struct {
	Credentials map[string]transfer.Credential `json:"credentials"`
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
}

// Issuer hands out credentials through another channel than the HTTP
// credential endpoint, such as the gRPC backend.
type Issuer interface {
	FetchCredentials(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error)
}

type Client struct {
	backendURL string
	baseURL    string
	tokens     auth.TokenSource
	http       *http.Client
	issuer     Issuer
}

// NewClient creates a signed-upload client. backendURL issues credentials;
// baseURL is the media host used when a credential has no upload URL.
func NewClient(backendURL, baseURL string, tokens auth.TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		backendURL: strings.TrimRight(backendURL, "/"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		http:       httpClient,
	}
}

// WithIssuer routes credential requests to i.
func (c *Client) WithIssuer(i Issuer) *Client {
	c.issuer = i
	return c
}

func (c *Client) FetchCredentials(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error) {
	if len(reqs) == 0 {
		return map[string]transfer.Credential{}, nil
	}
	if c.issuer != nil {
		return c.issuer.FetchCredentials(ctx, reqs)
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	var resp credentialsResponse
	err = netx.DoJSON(ctx, c.http, http.MethodPost, c.backendURL+"/uploads/credentials", token,
		credentialsRequest{Files: reqs}, &resp)
	if err != nil {
		return nil, fmt.Errorf("fetch upload credentials: %w", err)
	}
	if resp.Credentials == nil {
		resp.Credentials = map[string]transfer.Credential{}
	}
	return resp.Credentials, nil
}

func (c *Client) Transfer(ctx context.Context, path string, req transfer.Request, cred transfer.Credential) (string, error) {
	if cred.Signature == "" || cred.APIKey == "" {
		return "", fmt.Errorf("%s: %w", req.FileName, transfer.ErrMissingCredentials)
	}

	url := cred.UploadURL
	if url == "" {
		if cred.CloudName == "" || c.baseURL == "" {
			return "", fmt.Errorf("%s: no upload url", req.FileName)
		}
		url = fmt.Sprintf("%s/%s/image/upload", c.baseURL, cred.CloudName)
	}

	fields := map[string]string{
		"api_key":   cred.APIKey,
		"signature": cred.Signature,
		"folder":    cred.Folder,
		"public_id": cred.PublicID,
	}
	if cred.Timestamp != 0 {
		fields["timestamp"] = strconv.FormatInt(cred.Timestamp, 10)
	}

	body, err := netx.PostMultipart(ctx, c.http, url, fields, "file", path)
	if err != nil {
		return "", fmt.Errorf("transfer %s: %w", req.FileName, err)
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode transfer response: %w", err)
	}
	if out.SecureURL == "" {
		return "", errors.New("transfer response has no secure_url")
	}
	return out.SecureURL, nil
}
