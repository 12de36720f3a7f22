package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
//	-d string   local database path
//	-a string   backend base URL
//	-g string   backend gRPC address
//	-t string   backend transport (http|grpc)
//	-m string   transfer mode (signed|s3)
//	-n int      concurrent uploads per batch
//	-i int      queue check interval (seconds)
//	-l string   log level
//	-diag addr  diagnostics listen address ("" disables)
//	-token path session token file
//
// Arguments are filtered through flagx.FilterArgs so flags owned by other
// loaders (-c, -env) are not rejected here. A malformed value panics.
func parseFlags(cfg *Config, args []string) {
	args = flagx.FilterArgs(args, []string{"-d", "-a", "-g", "-t", "-m", "-n", "-i", "-l", "-diag", "-token"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.BackendURL, "a", cfg.BackendURL, "backend base URL")
	fs.StringVar(&cfg.GRPCAddr, "g", cfg.GRPCAddr, "backend gRPC address")
	fs.StringVar(&cfg.BackendTransport, "t", cfg.BackendTransport, "backend transport (http|grpc)")
	fs.StringVar(&cfg.TransferMode, "m", cfg.TransferMode, "transfer mode (signed|s3)")
	fs.IntVar(&cfg.ConcurrentUploads, "n", cfg.ConcurrentUploads, "concurrent uploads per batch")
	checkInterval := fs.Int("i", int(cfg.CheckInterval.Seconds()), "queue check interval (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.DiagnosticsAddr, "diag", cfg.DiagnosticsAddr, "diagnostics listen address")
	fs.StringVar(&cfg.TokenFile, "token", cfg.TokenFile, "session token file")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "i" {
			cfg.CheckInterval = time.Duration(*checkInterval) * time.Second
		}
	})
}
