// Package config loads runtime configuration for the notesync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "data_dir": "/home/me/.notesync",
//	  "upload_base_delay": "500ms",
//	  "s3_bucket": "media",
//	  "s3_endpoint": "http://127.0.0.1:9000"
//	}
//
// This package does not read environment variables; the S3 SDK may still
// pick up its own.
package config
