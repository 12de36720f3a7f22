package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
	"github.com/dmitrijs2005/fieldsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations use
// timex.Duration so the file may say "5s" or an integer of nanoseconds.
// Zero values mean "not set" and leave the current value untouched.
type JsonConfig struct {
	DataDir       string `json:"data_dir"`
	DatabasePath  string `json:"db_path"`
	AttachmentDir string `json:"attachment_dir"`

	BackendURL       string `json:"backend_url"`
	BackendTransport string `json:"backend_transport"`
	GRPCAddr         string `json:"grpc_addr"`
	TokenFile        string `json:"token_file"`

	TransferMode    string         `json:"transfer_mode"`
	TransferBaseURL string         `json:"transfer_base_url"`
	S3Region        string         `json:"s3_region"`
	S3Endpoint      string         `json:"s3_endpoint"`
	S3Bucket        string         `json:"s3_bucket"`
	S3AccessKey     string         `json:"s3_access_key"`
	S3SecretKey     string         `json:"s3_secret_key"`
	S3PublicBaseURL string         `json:"s3_public_base_url"`
	S3PresignTTL    timex.Duration `json:"s3_presign_ttl"`

	ConcurrentUploads int            `json:"concurrent_uploads"`
	MaxRetries        int            `json:"max_retries"`
	RetryBase         timex.Duration `json:"retry_base"`
	MaxItemAttempts   int            `json:"max_item_attempts"`
	CheckInterval     timex.Duration `json:"check_interval"`
	CompletionGrace   timex.Duration `json:"completion_grace"`
	DrainInterval     timex.Duration `json:"drain_interval"`
	ConnectTimeout    timex.Duration `json:"connect_timeout"`
	RequestTimeout    timex.Duration `json:"request_timeout"`

	PhotoMaxDimension     int `json:"photo_max_dimension"`
	SignatureMaxDimension int `json:"signature_max_dimension"`
	JPEGQuality           int `json:"jpeg_quality"`

	DiagnosticsAddr string `json:"diagnostics_addr"`
	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
}

// parseJson overlays cfg with the JSON file named by -c/-config, if any.
// Read or unmarshal errors panic.
func parseJson(cfg *Config, args []string) {
	jsonConfigFile := flagx.ConfigFileFlag(args)
	if jsonConfigFile == "" {
		return
	}

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	jc.applyTo(cfg)
}

func (jc *JsonConfig) applyTo(cfg *Config) {
	setString(&cfg.DataDir, jc.DataDir)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.AttachmentDir, jc.AttachmentDir)

	setString(&cfg.BackendURL, jc.BackendURL)
	setString(&cfg.BackendTransport, jc.BackendTransport)
	setString(&cfg.GRPCAddr, jc.GRPCAddr)
	setString(&cfg.TokenFile, jc.TokenFile)

	setString(&cfg.TransferMode, jc.TransferMode)
	setString(&cfg.TransferBaseURL, jc.TransferBaseURL)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3Endpoint, jc.S3Endpoint)
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3AccessKey, jc.S3AccessKey)
	setString(&cfg.S3SecretKey, jc.S3SecretKey)
	setString(&cfg.S3PublicBaseURL, jc.S3PublicBaseURL)
	setDuration(&cfg.S3PresignTTL, jc.S3PresignTTL)

	setInt(&cfg.ConcurrentUploads, jc.ConcurrentUploads)
	setInt(&cfg.MaxRetries, jc.MaxRetries)
	setDuration(&cfg.RetryBase, jc.RetryBase)
	setInt(&cfg.MaxItemAttempts, jc.MaxItemAttempts)
	setDuration(&cfg.CheckInterval, jc.CheckInterval)
	setDuration(&cfg.CompletionGrace, jc.CompletionGrace)
	setDuration(&cfg.DrainInterval, jc.DrainInterval)
	setDuration(&cfg.ConnectTimeout, jc.ConnectTimeout)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)

	setInt(&cfg.PhotoMaxDimension, jc.PhotoMaxDimension)
	setInt(&cfg.SignatureMaxDimension, jc.SignatureMaxDimension)
	setInt(&cfg.JPEGQuality, jc.JPEGQuality)

	setString(&cfg.DiagnosticsAddr, jc.DiagnosticsAddr)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.LogFormat, jc.LogFormat)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
