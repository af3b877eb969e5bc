// Package config contains the configuration for a running scholarr instance.
package config

import (
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/util"
)

// Environment variables that override the instance config. They exist so an
// operator can tighten the scrape-safety envelope without editing the config
// file. Values below the hard floors are rejected at startup.
const (
	EnvMinRequestDelaySeconds       = "INGESTION_MIN_REQUEST_DELAY_SECONDS"
	EnvMinRunIntervalMinutes        = "INGESTION_MIN_RUN_INTERVAL_MINUTES"
	EnvCooldownBlockedSeconds       = "INGESTION_COOLDOWN_BLOCKED_SECONDS"
	EnvCooldownNetworkSeconds       = "INGESTION_COOLDOWN_NETWORK_SECONDS"
	EnvContinuationBaseDelaySeconds = "INGESTION_CONTINUATION_BASE_DELAY_SECONDS"
	EnvContinuationMaxDelaySeconds  = "INGESTION_CONTINUATION_MAX_DELAY_SECONDS"
	EnvContinuationMaxAttempts      = "INGESTION_CONTINUATION_MAX_ATTEMPTS"
	EnvBlockedFailureThreshold      = "INGESTION_ALERT_BLOCKED_FAILURE_THRESHOLD"
	EnvNetworkFailureThreshold      = "INGESTION_ALERT_NETWORK_FAILURE_THRESHOLD"
	EnvAutomationAllowed            = "INGESTION_AUTOMATION_ALLOWED"
	EnvManualRunsAllowed            = "INGESTION_MANUAL_RUNS_ALLOWED"
)

// Hard floors. A config file or environment override may raise these values
// but never lower them.
const (
	FloorRequestDelaySeconds = 2
	FloorRunIntervalMinutes  = 15
)

// InstanceConfig is the config for an instance of scholarr, loaded from a
// JSON file via InstanceConfigFromFile.
type InstanceConfig struct {
	// ConnectionString points to the CockroachDB database to use for storage.
	ConnectionString string `json:"connection_string"`

	// URL is the base URL the Scholar profile pages are fetched from.
	// Defaults to https://scholar.google.com. Tests point it at a local
	// server.
	URL string `json:"url"`

	// Port is the HTTP port the REST API listens on, e.g. ":8000".
	Port string `json:"port"`

	// PromPort is the port the Prometheus metrics are served on, e.g.
	// ":20000".
	PromPort string `json:"prom_port"`

	// AutomationAllowed gates all scheduled runs instance-wide.
	AutomationAllowed bool `json:"automation_allowed"`

	// ManualRunsAllowed gates manually triggered runs instance-wide.
	ManualRunsAllowed bool `json:"manual_runs_allowed"`

	// MinRequestDelaySeconds is the floor applied to any user-configured
	// per-request delay. Never below FloorRequestDelaySeconds.
	MinRequestDelaySeconds int `json:"min_request_delay_seconds"`

	// MinRunIntervalMinutes is the floor for the auto-run interval. Never
	// below FloorRunIntervalMinutes.
	MinRunIntervalMinutes int `json:"min_run_interval_minutes"`

	// RequestJitterSeconds is the upper bound of the uniform jitter added to
	// every paced request gap.
	RequestJitterSeconds float64 `json:"request_jitter_seconds"`

	// MaxPagesPerScholar caps the paginator depth for one scholar.
	MaxPagesPerScholar int `json:"max_pages_per_scholar"`

	// PageSize is the requested Scholar page size.
	PageSize int `json:"page_size"`

	// PageDeadlineSeconds bounds a single page fetch. The per-scholar soft
	// deadline is PageDeadlineSeconds * MaxPagesPerScholar.
	PageDeadlineSeconds int `json:"page_deadline_seconds"`

	// NetworkErrorRetries is how often a transient network failure is
	// retried per page.
	NetworkErrorRetries int `json:"network_error_retries"`

	// RetryBackoffSeconds is the base of the per-page retry backoff.
	RetryBackoffSeconds int `json:"retry_backoff_seconds"`

	// AlertBlockedFailureThreshold is the per-run blocked-failure count that
	// trips the blocked cooldown.
	AlertBlockedFailureThreshold int `json:"alert_blocked_failure_threshold"`

	// AlertNetworkFailureThreshold is the per-run network-failure count that
	// trips the network cooldown.
	AlertNetworkFailureThreshold int `json:"alert_network_failure_threshold"`

	// CooldownBlockedSeconds is the cooldown duration after the blocked
	// threshold trips.
	CooldownBlockedSeconds int `json:"cooldown_blocked_seconds"`

	// CooldownNetworkSeconds is the cooldown duration after the network
	// threshold trips.
	CooldownNetworkSeconds int `json:"cooldown_network_seconds"`

	// ContinuationBaseDelaySeconds is the first retry delay of an
	// interrupted scholar walk.
	ContinuationBaseDelaySeconds int `json:"continuation_base_delay_seconds"`

	// ContinuationMaxDelaySeconds caps the continuation backoff.
	ContinuationMaxDelaySeconds int `json:"continuation_max_delay_seconds"`

	// ContinuationMaxAttempts is the number of continuation retries before a
	// slot is dropped.
	ContinuationMaxAttempts int `json:"continuation_max_attempts"`

	// SchedulerTickSeconds is the scheduler loop interval.
	SchedulerTickSeconds int `json:"scheduler_tick_seconds"`

	// SchedulerQueueBatchSize is the number of continuation items drained
	// per tick.
	SchedulerQueueBatchSize int `json:"scheduler_queue_batch_size"`

	// NameSearchMinIntervalSeconds paces the name-search side channel.
	NameSearchMinIntervalSeconds int `json:"name_search_min_interval_seconds"`

	// NameSearchIntervalJitterSeconds is the jitter added to name-search
	// pacing.
	NameSearchIntervalJitterSeconds int `json:"name_search_interval_jitter_seconds"`

	// NameSearchCooldownBlockThreshold is the number of consecutive blocked
	// name-search responses that open the breaker.
	NameSearchCooldownBlockThreshold int `json:"name_search_cooldown_block_threshold"`

	// NameSearchCooldownSeconds is how long the name-search breaker stays
	// open.
	NameSearchCooldownSeconds int `json:"name_search_cooldown_seconds"`

	// PdfWorkerCount is the size of the PDF resolution worker pool.
	PdfWorkerCount int `json:"pdf_worker_count"`

	// PdfMaxAttempts is the number of retryable PDF resolution failures
	// before an item is abandoned.
	PdfMaxAttempts int `json:"pdf_max_attempts"`

	// PdfBaseDelaySeconds is the base of the PDF retry backoff.
	PdfBaseDelaySeconds int `json:"pdf_base_delay_seconds"`

	// PdfMaxBackoffSeconds caps the PDF retry backoff.
	PdfMaxBackoffSeconds int `json:"pdf_max_backoff_seconds"`

	// EnrichProviderQPS is the per-provider politeness rate for enrichment
	// lookups.
	EnrichProviderQPS float64 `json:"enrich_provider_qps"`

	// OpenAlexURL is the base URL of the OpenAlex works API.
	OpenAlexURL string `json:"openalex_url"`

	// CrossrefURL is the base URL of the Crossref works API.
	CrossrefURL string `json:"crossref_url"`

	// ArxivURL is the base URL of the arXiv Atom query API.
	ArxivURL string `json:"arxiv_url"`

	// UnpaywallURL is the base URL of the Unpaywall API.
	UnpaywallURL string `json:"unpaywall_url"`

	// UnpaywallEmail is the contact address Unpaywall requires on every
	// request. Unpaywall lookups are skipped when empty.
	UnpaywallEmail string `json:"unpaywall_email"`
}

// Policy is the floor/flag block returned by GET /settings so the UI
// enforces the same floors the server does.
type Policy struct {
	AutomationAllowed      bool `json:"automation_allowed"`
	ManualRunsAllowed      bool `json:"manual_runs_allowed"`
	MinRequestDelaySeconds int  `json:"min_request_delay_seconds"`
	MinRunIntervalMinutes  int  `json:"min_run_interval_minutes"`
}

// NewInstanceConfig returns an InstanceConfig with every option at its
// default.
func NewInstanceConfig() *InstanceConfig {
	return &InstanceConfig{
		URL:                              "https://scholar.google.com",
		Port:                             ":8000",
		PromPort:                         ":20000",
		AutomationAllowed:                true,
		ManualRunsAllowed:                true,
		MinRequestDelaySeconds:           FloorRequestDelaySeconds,
		MinRunIntervalMinutes:            FloorRunIntervalMinutes,
		RequestJitterSeconds:             1.0,
		MaxPagesPerScholar:               30,
		PageSize:                         100,
		PageDeadlineSeconds:              90,
		NetworkErrorRetries:              1,
		RetryBackoffSeconds:              2,
		AlertBlockedFailureThreshold:     1,
		AlertNetworkFailureThreshold:     3,
		CooldownBlockedSeconds:           1800,
		CooldownNetworkSeconds:           900,
		ContinuationBaseDelaySeconds:     120,
		ContinuationMaxDelaySeconds:      3600,
		ContinuationMaxAttempts:          5,
		SchedulerTickSeconds:             60,
		SchedulerQueueBatchSize:          5,
		NameSearchMinIntervalSeconds:     10,
		NameSearchIntervalJitterSeconds:  3,
		NameSearchCooldownBlockThreshold: 3,
		NameSearchCooldownSeconds:        1800,
		PdfWorkerCount:                   2,
		PdfMaxAttempts:                   5,
		PdfBaseDelaySeconds:              60,
		PdfMaxBackoffSeconds:             3600,
		EnrichProviderQPS:                1.0,
		OpenAlexURL:                      "https://api.openalex.org",
		CrossrefURL:                      "https://api.crossref.org",
		ArxivURL:                         "https://export.arxiv.org",
		UnpaywallURL:                     "https://api.unpaywall.org",
	}
}

// InstanceConfigFromFile returns the deserialized JSON of an InstanceConfig
// found in filename, with environment overrides applied and floors enforced.
func InstanceConfigFromFile(filename string) (*InstanceConfig, error) {
	c := NewInstanceConfig()
	err := util.WithReadFile(filename, func(r io.Reader) error {
		b, err := io.ReadAll(r)
		if err != nil {
			return skerr.Wrapf(err, "reading %q", filename)
		}
		if err := json.Unmarshal(b, c); err != nil {
			return skerr.Wrapf(err, "parsing %q", filename)
		}
		return nil
	})
	if err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, skerr.Wrap(err)
	}
	if err := c.Validate(); err != nil {
		return nil, skerr.Wrap(err)
	}
	return c, nil
}

// applyEnv overrides config values from the environment. getenv is injected
// so tests don't mutate the process environment.
func (c *InstanceConfig) applyEnv(getenv func(string) string) error {
	intVars := []struct {
		name string
		dst  *int
	}{
		{EnvMinRequestDelaySeconds, &c.MinRequestDelaySeconds},
		{EnvMinRunIntervalMinutes, &c.MinRunIntervalMinutes},
		{EnvCooldownBlockedSeconds, &c.CooldownBlockedSeconds},
		{EnvCooldownNetworkSeconds, &c.CooldownNetworkSeconds},
		{EnvContinuationBaseDelaySeconds, &c.ContinuationBaseDelaySeconds},
		{EnvContinuationMaxDelaySeconds, &c.ContinuationMaxDelaySeconds},
		{EnvContinuationMaxAttempts, &c.ContinuationMaxAttempts},
		{EnvBlockedFailureThreshold, &c.AlertBlockedFailureThreshold},
		{EnvNetworkFailureThreshold, &c.AlertNetworkFailureThreshold},
	}
	for _, v := range intVars {
		s := getenv(v.name)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return skerr.Fmt("%s: %q is not an integer", v.name, s)
		}
		*v.dst = n
	}
	boolVars := []struct {
		name string
		dst  *bool
	}{
		{EnvAutomationAllowed, &c.AutomationAllowed},
		{EnvManualRunsAllowed, &c.ManualRunsAllowed},
	}
	for _, v := range boolVars {
		s := getenv(v.name)
		if s == "" {
			continue
		}
		b, err := ParseBool(s)
		if err != nil {
			return skerr.Wrapf(err, "%s", v.name)
		}
		*v.dst = b
	}
	return nil
}

// ParseBool parses the boolean forms accepted across the environment
// surface: 1/0, true/false, yes/no, on/off (case-insensitive).
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, skerr.Fmt("%q is not a recognized boolean", s)
}

// Validate returns an error if any option is out of range. Floors are hard:
// values below them fail validation rather than being silently raised.
func (c *InstanceConfig) Validate() error {
	if c.ConnectionString == "" {
		return skerr.Fmt("connection_string must be supplied")
	}
	if c.MinRequestDelaySeconds < FloorRequestDelaySeconds {
		return skerr.Fmt("min_request_delay_seconds must be >= %d, got %d", FloorRequestDelaySeconds, c.MinRequestDelaySeconds)
	}
	if c.MinRunIntervalMinutes < FloorRunIntervalMinutes {
		return skerr.Fmt("min_run_interval_minutes must be >= %d, got %d", FloorRunIntervalMinutes, c.MinRunIntervalMinutes)
	}
	if c.MaxPagesPerScholar < 1 {
		return skerr.Fmt("max_pages_per_scholar must be >= 1, got %d", c.MaxPagesPerScholar)
	}
	if c.PageSize < 1 {
		return skerr.Fmt("page_size must be >= 1, got %d", c.PageSize)
	}
	if c.ContinuationBaseDelaySeconds < 1 || c.ContinuationMaxDelaySeconds < c.ContinuationBaseDelaySeconds {
		return skerr.Fmt("continuation delay envelope is invalid: base=%d max=%d", c.ContinuationBaseDelaySeconds, c.ContinuationMaxDelaySeconds)
	}
	if c.ContinuationMaxAttempts < 1 {
		return skerr.Fmt("continuation_max_attempts must be >= 1, got %d", c.ContinuationMaxAttempts)
	}
	if c.PdfWorkerCount < 1 {
		return skerr.Fmt("pdf_worker_count must be >= 1, got %d", c.PdfWorkerCount)
	}
	if c.PdfMaxAttempts < 1 {
		return skerr.Fmt("pdf_max_attempts must be >= 1, got %d", c.PdfMaxAttempts)
	}
	if c.EnrichProviderQPS <= 0 {
		return skerr.Fmt("enrich_provider_qps must be > 0, got %v", c.EnrichProviderQPS)
	}
	return nil
}

// Policy returns the floor/flag block shared with clients.
func (c *InstanceConfig) Policy() Policy {
	return Policy{
		AutomationAllowed:      c.AutomationAllowed,
		ManualRunsAllowed:      c.ManualRunsAllowed,
		MinRequestDelaySeconds: c.MinRequestDelaySeconds,
		MinRunIntervalMinutes:  c.MinRunIntervalMinutes,
	}
}
