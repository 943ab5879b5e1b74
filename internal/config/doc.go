// Package config defines configuration structures for the hoard CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (HOARD_ prefix)
//   - YAML configuration file
//
// Flags win over the environment, which wins over the file.
//
// # Example
//
//	store: bolt:///var/lib/hoard/partials.db
//	archive:
//	  bucket: s3://hoard-archives?region=eu-west-1
//	  prefix: batches/
//	concurrency: 10
//	chunk_size: 8MiB
//	retry:
//	  attempts: 3
//	  backoff: 2s
//	timeouts:
//	  metadata: 30s
//	  chunk: 5m
//	resolver:
//	  kind: json
//	  template: https://api.example.com/media/{id}
//	probe:
//	  url: https://api.example.com/healthz
//	  interval: 10s
//	log:
//	  level: info
//	  format: json
//	  file: /var/log/hoard/hoard.log
package config
