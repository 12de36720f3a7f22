// Package presigned transfers attachments to an S3-compatible bucket with presigned
// PUT URLs.
package presigned

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/dmitrijs2005/fieldsync/internal/client/transfer"
	"github.com/dmitrijs2005/fieldsync/internal/netx"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

type Config struct {
	Region        string
	Endpoint      string
	Bucket        string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	KeyPrefix     string
	PresignTTL    time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "attachments"
	}
	return &Client{cfg: cfg, http: httpClient}
}

func (c *Client) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.cfg.AccessKey,
			c.cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3PresignClient(client), nil
}

// ObjectKey is the bucket key a file is stored under.
func (c *Client) ObjectKey(req transfer.Request) string {
	if req.StartDate != "" {
		return path.Join(c.cfg.KeyPrefix, req.StartDate, req.FileName)
	}
	return path.Join(c.cfg.KeyPrefix, req.FileName)
}

func (c *Client) publicURL(key string) string {
	base := strings.TrimRight(c.cfg.PublicBaseURL, "/")
	if base == "" {
		base = strings.TrimRight(c.cfg.Endpoint, "/")
	}
	return fmt.Sprintf("%s/%s/%s", base, c.cfg.Bucket, key)
}

// FetchCredentials presigns one PUT per file. Presigning is local, so a single
// call covers the whole batch.
func (c *Client) FetchCredentials(ctx context.Context, reqs []transfer.Request) (map[string]transfer.Credential, error) {
	out := make(map[string]transfer.Credential, len(reqs))
	if len(reqs) == 0 {
		return out, nil
	}

	pc, err := c.getPresignClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3 config: %w", err)
	}

	bucket := c.cfg.Bucket
	for _, r := range reqs {
		key := c.ObjectKey(r)
		contentType := r.MediaType
		req, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
			Bucket:      &bucket,
			Key:         &key,
			ContentType: &contentType,
		}, s3.WithPresignExpires(c.cfg.PresignTTL))
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", r.FileName, err)
		}
		out[r.FileName] = transfer.Credential{
			UploadURL: req.URL,
			Folder:    path.Dir(key),
			PublicID:  key,
			PublicURL: c.publicURL(key),
		}
	}
	return out, nil
}

func (c *Client) Transfer(ctx context.Context, filePath string, req transfer.Request, cred transfer.Credential) (string, error) {
	if cred.UploadURL == "" || cred.PublicURL == "" {
		return "", fmt.Errorf("%s: %w", req.FileName, transfer.ErrMissingCredentials)
	}
	if err := netx.PutFile(ctx, c.http, cred.UploadURL, req.MediaType, filePath); err != nil {
		return "", fmt.Errorf("transfer %s: %w", req.FileName, err)
	}
	return cred.PublicURL, nil
}
