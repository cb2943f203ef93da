package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/classifyd/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-h string   gRPC health bind address (e.g., ":50051")
//	-d string   PostgreSQL DSN
//	-q string   Redis address
//	-s string   session token HMAC secret
//	-t int      session token validity, minutes
//	-l int      rate limit, admissions per window
//	-w int      rate window, seconds
//	-m int      max upload size, bytes
//	-n int      admission ceiling
//	-f string   staging directory
//	-k string   classifier URL
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-h", "-d", "-q", "-s", "-t", "-l", "-w", "-m", "-n", "-f", "-k", "-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run http server")
	fs.StringVar(&config.EndpointAddrGRPC, "h", config.EndpointAddrGRPC, "address and port to run health server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.RedisAddr, "q", config.RedisAddr, "redis address")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.IntVar(&config.RateLimit, "l", config.RateLimit, "admissions per rate window")
	rateWindow := fs.Int("w", int(config.RateWindow.Seconds()), "rate window (in seconds)")
	fs.Int64Var(&config.MaxUploadBytes, "m", config.MaxUploadBytes, "max upload size (in bytes)")
	fs.IntVar(&config.AdmissionCeiling, "n", config.AdmissionCeiling, "max tasks processing at once")
	fs.StringVar(&config.StagingDir, "f", config.StagingDir, "staging directory")
	fs.StringVar(&config.ClassifierURL, "k", config.ClassifierURL, "classifier URL")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// minute/second flags are applied only when given, so finer values from
	// JSON or the environment are not truncated
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["t"] {
		config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	}
	if set["w"] {
		config.RateWindow = time.Duration(*rateWindow) * time.Second
	}
}
