package config

import (
	"path/filepath"
	"time"
)

// Config holds runtime settings of the notesync client.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration

	// DataDir holds one database per user plus the token file.
	DataDir   string
	TokenFile string

	SyncBatchSize   int
	SyncConcurrency int
	CallTimeout     time.Duration

	UploadWorkers     int
	UploadRetryBudget int
	UploadBaseDelay   time.Duration
	UploadMaxDelay    time.Duration

	// S3Bucket empty keeps attachments in process memory.
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	LogFile      string
	LogMaxSizeMB int
	LogLevel     string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.DataDir = ".notesync"
	c.TokenFile = ""
	c.SyncBatchSize = 100
	c.SyncConcurrency = 4
	c.CallTimeout = 10 * time.Second
	c.UploadWorkers = 2
	c.UploadRetryBudget = 5
	c.UploadBaseDelay = 500 * time.Millisecond
	c.UploadMaxDelay = 30 * time.Second
	c.S3Region = "us-east-1"
	c.LogFile = ""
	c.LogMaxSizeMB = 10
	c.LogLevel = "info"
}

// TokenPath is the token file, defaulting to one inside DataDir.
func (c *Config) TokenPath() string {
	if c.TokenFile != "" {
		return c.TokenFile
	}
	return filepath.Join(c.DataDir, "token")
}

// LogPath is the log file, defaulting to one inside DataDir.
func (c *Config) LogPath() string {
	if c.LogFile != "" {
		return c.LogFile
	}
	return filepath.Join(c.DataDir, "notesync.log")
}

// LoadConfig applies defaults, then overlays values from a JSON file (if
// one is named by -c/-config) and from command-line flags. Later sources
// take precedence over earlier ones. Arguments this package does not own
// are ignored, so args may be the full command line.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
