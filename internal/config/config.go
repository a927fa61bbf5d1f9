// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults; Load layers file and env on top.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8480".
	Addr string `koanf:"addr"`

	// UpstreamBaseURL is the stats API root, e.g. "https://stats.example.net/Platform".
	UpstreamBaseURL string `koanf:"upstream_base_url"`

	// UpstreamAPIKey is sent as the X-API-Key header on every upstream call.
	UpstreamAPIKey string `koanf:"upstream_api_key"`

	// ClanID identifies the tracked roster upstream.
	ClanID string `koanf:"clan_id"`

	// RequestTimeoutMS bounds each individual upstream call.
	RequestTimeoutMS int `koanf:"request_timeout_ms"`

	// RetryCount caps retries of transiently failed upstream calls.
	RetryCount int `koanf:"retry_count"`

	// BackoffBaseMS is the base delay for exponential backoff between retries.
	BackoffBaseMS int `koanf:"backoff_base_ms"`

	// PageSize is the history page size requested from upstream.
	PageSize int `koanf:"page_size"`

	// MaxPages is the hard ceiling on history pages per (character, mode).
	MaxPages int `koanf:"max_pages"`

	// FanoutConcurrency bounds how many member jobs run at once.
	FanoutConcurrency int `koanf:"fanout_concurrency"`

	// BatchPauseMS is the pause between fan-out batches during a refresh.
	BatchPauseMS int `koanf:"batch_pause_ms"`

	// MinRefreshIntervalS rate-limits externally triggered stats refreshes.
	MinRefreshIntervalS int `koanf:"min_refresh_interval_s"`

	// RefreshWindowS is how long a refresh waits for member jobs to report.
	RefreshWindowS int `koanf:"refresh_window_s"`

	// LeaseTTLS is the job lock lease; a younger lock means a run is in progress.
	LeaseTTLS int `koanf:"lease_ttl_s"`

	// RetryDelayS delays the re-run of a failed job.
	RetryDelayS int `koanf:"retry_delay_s"`

	// SweepIntervalS drives the periodic rescan of persisted jobs.
	SweepIntervalS int `koanf:"sweep_interval_s"`

	// MaxJobAttempts caps consecutive failed runs of one job; 0 means unlimited.
	MaxJobAttempts int `koanf:"max_job_attempts"`

	// RunQueueSize bounds the run-request dispatch queue.
	RunQueueSize int `koanf:"run_queue_size"`

	// AdminToken guards POST /run-update. Empty disables the endpoint.
	AdminToken string `koanf:"admin_token"`

	// PGCRTTLS is the cache TTL for fetched activity-instance details.
	PGCRTTLS int `koanf:"pgcr_ttl_s"`

	// DataDir is the durable store directory.
	DataDir string `koanf:"data_dir"`

	// StoreInMemory switches the store to a non-persistent mode (tests, dev).
	StoreInMemory bool `koanf:"store_in_memory"`

	// SyncWaitTimeoutS bounds how long a fresh-sync read blocks on a refresh.
	SyncWaitTimeoutS int `koanf:"sync_wait_timeout_s"`

	// SyncMemberCap limits how many members a synchronous refresh processes.
	SyncMemberCap int `koanf:"sync_member_cap"`

	// SchedulerEnabled turns the in-process refresh trigger on.
	SchedulerEnabled bool `koanf:"scheduler_enabled"`

	// SchedulerIntervalS is the period between scheduled stats refreshes.
	SchedulerIntervalS int `koanf:"scheduler_interval_s"`

	// SchedulerStaggerS delays the members refresh after the stats refresh.
	SchedulerStaggerS int `koanf:"scheduler_stagger_s"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":8480",
		UpstreamBaseURL:     "",
		UpstreamAPIKey:      "",
		ClanID:              "",
		RequestTimeoutMS:    10_000,
		RetryCount:          3,
		BackoffBaseMS:       500,
		PageSize:            250,
		MaxPages:            40,
		FanoutConcurrency:   3,
		BatchPauseMS:        1_000,
		MinRefreshIntervalS: 300,
		RefreshWindowS:      120,
		LeaseTTLS:           120,
		RetryDelayS:         60,
		SweepIntervalS:      30,
		MaxJobAttempts:      8,
		RunQueueSize:        1_024,
		AdminToken:          "",
		PGCRTTLS:            86_400,
		DataDir:             "data",
		StoreInMemory:       false,
		SyncWaitTimeoutS:    30,
		SyncMemberCap:       10,
		SchedulerEnabled:    true,
		SchedulerIntervalS:  1_800,
		SchedulerStaggerS:   30,
	}
}

// Duration helpers so callers do not repeat unit conversions.

func (c *Config) RequestTimeout() time.Duration     { return time.Duration(c.RequestTimeoutMS) * time.Millisecond }
func (c *Config) BackoffBase() time.Duration        { return time.Duration(c.BackoffBaseMS) * time.Millisecond }
func (c *Config) BatchPause() time.Duration         { return time.Duration(c.BatchPauseMS) * time.Millisecond }
func (c *Config) MinRefreshInterval() time.Duration { return time.Duration(c.MinRefreshIntervalS) * time.Second }
func (c *Config) RefreshWindow() time.Duration      { return time.Duration(c.RefreshWindowS) * time.Second }
func (c *Config) LeaseTTL() time.Duration           { return time.Duration(c.LeaseTTLS) * time.Second }
func (c *Config) RetryDelay() time.Duration         { return time.Duration(c.RetryDelayS) * time.Second }
func (c *Config) SweepInterval() time.Duration      { return time.Duration(c.SweepIntervalS) * time.Second }
func (c *Config) PGCRTTL() time.Duration            { return time.Duration(c.PGCRTTLS) * time.Second }
func (c *Config) SyncWaitTimeout() time.Duration    { return time.Duration(c.SyncWaitTimeoutS) * time.Second }
func (c *Config) SchedulerInterval() time.Duration  { return time.Duration(c.SchedulerIntervalS) * time.Second }
func (c *Config) SchedulerStagger() time.Duration   { return time.Duration(c.SchedulerStaggerS) * time.Second }
