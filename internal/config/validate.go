package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Known entity types. EntityOrder entries outside this set are rejected at
// load time rather than producing 404s mid-cycle.
var knownEntityTypes = map[string]bool{
	"patients":      true,
	"prescriptions": true,
}

// Known log levels and formats.
var (
	knownLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	knownLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks a Config for invalid values, collecting all problems into
// one joined error so users fix the whole file in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.URL == "" {
		errs = append(errs, errors.New("server.url must not be empty"))
	} else if _, err := url.ParseRequestURI(s.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url is not a valid URL: %w", err))
	}

	if s.NotifyURL != "" && !strings.HasPrefix(s.NotifyURL, "ws://") && !strings.HasPrefix(s.NotifyURL, "wss://") {
		errs = append(errs, fmt.Errorf("server.notify_url must be a ws:// or wss:// URL, got %q", s.NotifyURL))
	}

	if s.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("server.requests_per_second must be positive, got %d", s.RequestsPerSecond))
	}

	if s.Burst <= 0 {
		errs = append(errs, fmt.Errorf("server.burst must be positive, got %d", s.Burst))
	}

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if len(s.EntityOrder) == 0 {
		errs = append(errs, errors.New("sync.entity_order must list at least one entity type"))
	}

	seen := map[string]bool{}

	for _, et := range s.EntityOrder {
		if !knownEntityTypes[et] {
			errs = append(errs, fmt.Errorf("sync.entity_order contains unknown entity type %q", et))
		}

		if seen[et] {
			errs = append(errs, fmt.Errorf("sync.entity_order lists %q twice", et))
		}

		seen[et] = true
	}

	if err := validateDuration("sync.interval", s.Interval); err != nil {
		errs = append(errs, err)
	}

	if err := validateDuration("sync.trigger_debounce", s.TriggerDebounce); err != nil {
		errs = append(errs, err)
	}

	if s.PushWorkers <= 0 {
		errs = append(errs, fmt.Errorf("sync.push_workers must be positive, got %d", s.PushWorkers))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !knownLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level must be debug, info, warn, or error, got %q", l.LogLevel))
	}

	if !knownLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format must be auto, text, or json, got %q", l.LogFormat))
	}

	return errs
}

// validateDuration checks a duration string parses and is positive.
func validateDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s is not a valid duration: %w", key, err)
	}

	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", key, value)
	}

	return nil
}

// SyncInterval returns the parsed watch-mode interval. Validate guarantees
// the string parses; the zero fallback covers hand-built Configs in tests.
func (c *Config) SyncInterval() time.Duration {
	d, err := time.ParseDuration(c.Sync.Interval)
	if err != nil {
		return 0
	}

	return d
}

// TriggerDebounce returns the parsed trigger quiet window.
func (c *Config) TriggerDebounce() time.Duration {
	d, err := time.ParseDuration(c.Sync.TriggerDebounce)
	if err != nil {
		return 0
	}

	return d
}
