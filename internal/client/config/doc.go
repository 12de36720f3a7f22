// Package config loads runtime configuration for the sync agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Environment variables prefixed with FIELDSYNC_ (a dotenv file given by
//     -env, or ./.env, is loaded into the environment first).
//  4. Command-line flags, which override everything else.
//
// The merged result is validated with go-playground/validator; LoadConfig
// panics on malformed input or a failed validation.
//
// # JSON schema
//
// Durations use timex.Duration, so values can be strings like "5s" or
// integer nanoseconds:
//
//	{
//	  "db_path": "fieldsync.db",
//	  "backend_url": "https://api.example.com",
//	  "transfer_mode": "s3",
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "s3_bucket": "job-photos",
//	  "concurrent_uploads": 10,
//	  "retry_base": "1s",
//	  "check_interval": "5s"
//	}
package config
