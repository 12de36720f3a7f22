package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// EnvPrefix namespaces every environment variable, e.g. FIELDSYNC_DB_PATH.
const EnvPrefix = "FIELDSYNC"

// parseEnv overlays cfg with FIELDSYNC_* variables. A dotenv file named by
// -env is loaded first and must exist; otherwise ./.env is loaded when present.
// Variables already set in the process environment win over dotenv values.
// Unset variables leave the current value untouched.
func parseEnv(cfg *Config, args []string) {
	if path := flagx.EnvFileFlag(args); path != "" {
		if err := godotenv.Load(path); err != nil {
			panic(err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		panic(err)
	}
}
