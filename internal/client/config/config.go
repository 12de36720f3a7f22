package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// Transfer modes.
const (
	TransferSigned = "signed"
	TransferS3     = "s3"
)

// Backend transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config holds runtime settings for the sync agent.
type Config struct {
	DataDir       string `envconfig:"DATA_DIR"`
	DatabasePath  string `envconfig:"DB_PATH" validate:"required"`
	AttachmentDir string `envconfig:"ATTACHMENT_DIR" validate:"required"`

	BackendURL       string `envconfig:"BACKEND_URL" validate:"required,url"`
	BackendTransport string `envconfig:"BACKEND_TRANSPORT" validate:"oneof=http grpc"`
	GRPCAddr         string `envconfig:"GRPC_ADDR" validate:"required_if=BackendTransport grpc"`
	TokenFile        string `envconfig:"TOKEN_FILE"`

	TransferMode    string        `envconfig:"TRANSFER_MODE" validate:"oneof=signed s3"`
	TransferBaseURL string        `envconfig:"TRANSFER_BASE_URL" validate:"required_if=TransferMode signed"`
	S3Region        string        `envconfig:"S3_REGION"`
	S3Endpoint      string        `envconfig:"S3_ENDPOINT" validate:"required_if=TransferMode s3"`
	S3Bucket        string        `envconfig:"S3_BUCKET" validate:"required_if=TransferMode s3"`
	S3AccessKey     string        `envconfig:"S3_ACCESS_KEY"`
	S3SecretKey     string        `envconfig:"S3_SECRET_KEY"`
	S3PublicBaseURL string        `envconfig:"S3_PUBLIC_BASE_URL"`
	S3PresignTTL    time.Duration `envconfig:"S3_PRESIGN_TTL" validate:"gt=0"`

	ConcurrentUploads int           `envconfig:"CONCURRENT_UPLOADS" validate:"min=1,max=64"`
	MaxRetries        int           `envconfig:"MAX_RETRIES" validate:"min=1"`
	RetryBase         time.Duration `envconfig:"RETRY_BASE" validate:"gt=0"`
	MaxItemAttempts   int           `envconfig:"MAX_ITEM_ATTEMPTS" validate:"min=0"`
	CheckInterval     time.Duration `envconfig:"CHECK_INTERVAL" validate:"gt=0"`
	CompletionGrace   time.Duration `envconfig:"COMPLETION_GRACE" validate:"min=0"`
	DrainInterval     time.Duration `envconfig:"DRAIN_INTERVAL" validate:"gt=0"`
	ConnectTimeout    time.Duration `envconfig:"CONNECT_TIMEOUT" validate:"gt=0"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" validate:"gt=0"`

	PhotoMaxDimension     int `envconfig:"PHOTO_MAX_DIMENSION" validate:"min=1"`
	SignatureMaxDimension int `envconfig:"SIGNATURE_MAX_DIMENSION" validate:"min=1"`
	JPEGQuality           int `envconfig:"JPEG_QUALITY" validate:"min=1,max=100"`

	DiagnosticsAddr string `envconfig:"DIAGNOSTICS_ADDR"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	LogFormat       string `envconfig:"LOG_FORMAT" validate:"omitempty,oneof=json text"`
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "fieldsync.db"
	c.AttachmentDir = "attachments"

	c.BackendURL = "http://127.0.0.1:8080"
	c.BackendTransport = TransportHTTP
	c.GRPCAddr = "127.0.0.1:50051"
	c.TokenFile = "session.token"

	c.TransferMode = TransferSigned
	c.TransferBaseURL = "https://api.cloudinary.com/v1_1"
	c.S3Region = "us-east-1"
	c.S3PresignTTL = 15 * time.Minute

	c.ConcurrentUploads = 10
	c.MaxRetries = 3
	c.RetryBase = time.Second
	c.CheckInterval = 5 * time.Second
	c.CompletionGrace = 2 * time.Second
	c.DrainInterval = 30 * time.Second
	c.ConnectTimeout = 30 * time.Second
	c.RequestTimeout = time.Minute

	c.PhotoMaxDimension = 1600
	c.SignatureMaxDimension = 800
	c.JPEGQuality = 80

	c.DiagnosticsAddr = "127.0.0.1:9464"
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// Validate checks field constraints after all sources were applied.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present), the environment and command-line flags. Later sources take
// precedence over earlier ones. Malformed input panics, like a bad flag would.
func LoadConfig() *Config {
	return load(os.Args[1:])
}

func load(args []string) *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg, args)
	parseEnv(cfg, args)
	parseFlags(cfg, args)
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// Path resolves p against DataDir unless p is absolute or DataDir is empty.
func (c *Config) Path(p string) string {
	if p == "" || c.DataDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}
