package config

import (
	"flag"
	"io"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
)

// parseFlags populates Config fields from command-line flags.
//
// Supported flags:
//
//	-a string            address and port of the document service
//	-i int               online check interval (in seconds)
//	-d string            data directory
//	-token string        token file
//	-batch int           records per sync batch
//	-concurrency int     entities pushed in parallel
//	-timeout duration    remote call timeout
//	-upload-workers int  parallel uploads
//	-upload-budget int   upload attempts before a blob is failed
//	-s3-bucket, -s3-region, -s3-endpoint, -s3-access-key, -s3-secret-key
//	-log string          log file
//	-log-level string    debug, info, warn or error
//
// Only these flags are picked out of args, so the rest of the command line
// is left to the command framework.
func parseFlags(cfg *Config, args []string) error {
	fs, onlineCheckInterval := newFlagSet(cfg)
	if err := fs.Parse(flagx.FilterArgs(args, flagx.FlagNames(fs))); err != nil {
		return err
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	return nil
}

// CommandArgs strips the configuration flags (and -c/-config) from args,
// leaving what the command framework should see.
func CommandArgs(args []string) []string {
	fs, _ := newFlagSet(&Config{})
	_, rest := flagx.SplitArgs(args, append(flagx.FlagNames(fs), flagx.ConfigFlags...))
	return rest
}

func newFlagSet(cfg *Config) (*flag.FlagSet, *int) {
	fs := flag.NewFlagSet("notesync", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.TokenFile, "token", cfg.TokenFile, "token file")
	fs.IntVar(&cfg.SyncBatchSize, "batch", cfg.SyncBatchSize, "records per sync batch")
	fs.IntVar(&cfg.SyncConcurrency, "concurrency", cfg.SyncConcurrency, "entities pushed in parallel")
	fs.DurationVar(&cfg.CallTimeout, "timeout", cfg.CallTimeout, "remote call timeout")
	fs.IntVar(&cfg.UploadWorkers, "upload-workers", cfg.UploadWorkers, "parallel uploads")
	fs.IntVar(&cfg.UploadRetryBudget, "upload-budget", cfg.UploadRetryBudget, "upload attempts before giving up")
	fs.StringVar(&cfg.S3Bucket, "s3-bucket", cfg.S3Bucket, "S3 bucket for attachments")
	fs.StringVar(&cfg.S3Region, "s3-region", cfg.S3Region, "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", cfg.S3Endpoint, "S3 endpoint (MinIO and friends)")
	fs.StringVar(&cfg.S3AccessKey, "s3-access-key", cfg.S3AccessKey, "S3 access key")
	fs.StringVar(&cfg.S3SecretKey, "s3-secret-key", cfg.S3SecretKey, "S3 secret key")
	fs.StringVar(&cfg.LogFile, "log", cfg.LogFile, "log file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	return fs, onlineCheckInterval
}
