package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals
// use timex.Duration so they may be strings like "3s" or integer
// nanoseconds. Absent keys leave the current value untouched.
type JsonConfig struct {
	ServerEndpointAddr  *string         `json:"server_endpoint_addr"`
	OnlineCheckInterval *timex.Duration `json:"online_check_interval"`
	DataDir             *string         `json:"data_dir"`
	TokenFile           *string         `json:"token_file"`
	SyncBatchSize       *int            `json:"sync_batch_size"`
	SyncConcurrency     *int            `json:"sync_concurrency"`
	CallTimeout         *timex.Duration `json:"call_timeout"`
	UploadWorkers       *int            `json:"upload_workers"`
	UploadRetryBudget   *int            `json:"upload_retry_budget"`
	UploadBaseDelay     *timex.Duration `json:"upload_base_delay"`
	UploadMaxDelay      *timex.Duration `json:"upload_max_delay"`
	S3Bucket            *string         `json:"s3_bucket"`
	S3Region            *string         `json:"s3_region"`
	S3Endpoint          *string         `json:"s3_endpoint"`
	S3AccessKey         *string         `json:"s3_access_key"`
	S3SecretKey         *string         `json:"s3_secret_key"`
	LogFile             *string         `json:"log_file"`
	LogMaxSizeMB        *int            `json:"log_max_size_mb"`
	LogLevel            *string         `json:"log_level"`
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

// parseJson overlays cfg with the JSON file named by -c/-config in args.
// Without such a flag nothing changes.
func parseJson(cfg *Config, args []string) error {
	path := flagx.ConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	set(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	set(&cfg.DataDir, jc.DataDir)
	set(&cfg.TokenFile, jc.TokenFile)
	set(&cfg.SyncBatchSize, jc.SyncBatchSize)
	set(&cfg.SyncConcurrency, jc.SyncConcurrency)
	setDuration(&cfg.CallTimeout, jc.CallTimeout)
	set(&cfg.UploadWorkers, jc.UploadWorkers)
	set(&cfg.UploadRetryBudget, jc.UploadRetryBudget)
	setDuration(&cfg.UploadBaseDelay, jc.UploadBaseDelay)
	setDuration(&cfg.UploadMaxDelay, jc.UploadMaxDelay)
	set(&cfg.S3Bucket, jc.S3Bucket)
	set(&cfg.S3Region, jc.S3Region)
	set(&cfg.S3Endpoint, jc.S3Endpoint)
	set(&cfg.S3AccessKey, jc.S3AccessKey)
	set(&cfg.S3SecretKey, jc.S3SecretKey)
	set(&cfg.LogFile, jc.LogFile)
	set(&cfg.LogMaxSizeMB, jc.LogMaxSizeMB)
	set(&cfg.LogLevel, jc.LogLevel)
	return nil
}
