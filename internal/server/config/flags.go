package config

import (
	"flag"
	"io"

	"github.com/dmitrijs2005/certkeeper/internal/flagx"
)

var shortFlags = []string{"-a", "-g", "-m", "-d", "-s", "-b", "-o", "-f", "-l", "-r"}

// parseFlags overlays Config with short command-line flags:
//
//	-a string   HTTP bind address (e.g. ":8080")
//	-g string   gRPC health bind address
//	-m string   storage backend: postgres | memory
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-b string   public base URL used in verification links
//	-o string   artifact backend: s3 | gcs | none
//	-f string   log format: json | text | zap | zap-dev
//	-l string   log level
//	-r string   Redis address for verify rate limiting
//
// Arguments not listed above are filtered out first, so flags owned by
// other components do not cause parse errors.
func parseFlags(config *Config, args []string) error {
	fs := flag.NewFlagSet("certkeeper", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "HTTP address and port")
	fs.StringVar(&config.GRPCAddr, "g", config.GRPCAddr, "gRPC health address and port")
	fs.StringVar(&config.StorageBackend, "m", config.StorageBackend, "storage backend")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.PublicBaseURL, "b", config.PublicBaseURL, "public base URL")
	fs.StringVar(&config.ArtifactBackend, "o", config.ArtifactBackend, "artifact backend")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "redis address")

	return fs.Parse(flagx.FilterArgs(args, shortFlags))
}
