package config

import (
	"time"
)

// RunConfig is the frozen snapshot of every setting the ingestion call graph
// consults for one run. It is captured at run start and carried through the
// call graph; settings changed mid-run take effect on the next run only.
type RunConfig struct {
	// RequestDelay is the effective per-request gap,
	// max(user delay, instance floor).
	RequestDelay time.Duration

	// RequestJitter is the upper bound of the uniform jitter added to
	// RequestDelay.
	RequestJitter time.Duration

	MaxPagesPerScholar int
	PageSize           int

	// PageDeadline bounds one page fetch. The per-scholar soft deadline is
	// ScholarDeadline().
	PageDeadline time.Duration

	NetworkErrorRetries int
	RetryBackoff        time.Duration

	BlockedFailureThreshold int
	NetworkFailureThreshold int
	CooldownBlocked         time.Duration
	CooldownNetwork         time.Duration

	ContinuationBaseDelay   time.Duration
	ContinuationMaxDelay    time.Duration
	ContinuationMaxAttempts int

	// Force disables the head-fingerprint short-circuit so every page is
	// re-fetched.
	Force bool
}

// RunConfigForUser snapshots the effective run settings for a user whose
// configured per-request delay is userDelaySeconds. Values below the
// instance floor are raised to it.
func (c *InstanceConfig) RunConfigForUser(userDelaySeconds int) RunConfig {
	delay := userDelaySeconds
	if delay < c.MinRequestDelaySeconds {
		delay = c.MinRequestDelaySeconds
	}
	return RunConfig{
		RequestDelay:            time.Duration(delay) * time.Second,
		RequestJitter:           time.Duration(c.RequestJitterSeconds * float64(time.Second)),
		MaxPagesPerScholar:      c.MaxPagesPerScholar,
		PageSize:                c.PageSize,
		PageDeadline:            time.Duration(c.PageDeadlineSeconds) * time.Second,
		NetworkErrorRetries:     c.NetworkErrorRetries,
		RetryBackoff:            time.Duration(c.RetryBackoffSeconds) * time.Second,
		BlockedFailureThreshold: c.AlertBlockedFailureThreshold,
		NetworkFailureThreshold: c.AlertNetworkFailureThreshold,
		CooldownBlocked:         time.Duration(c.CooldownBlockedSeconds) * time.Second,
		CooldownNetwork:         time.Duration(c.CooldownNetworkSeconds) * time.Second,
		ContinuationBaseDelay:   time.Duration(c.ContinuationBaseDelaySeconds) * time.Second,
		ContinuationMaxDelay:    time.Duration(c.ContinuationMaxDelaySeconds) * time.Second,
		ContinuationMaxAttempts: c.ContinuationMaxAttempts,
	}
}

// ScholarDeadline is the soft wall-clock budget for one scholar's walk.
func (rc RunConfig) ScholarDeadline() time.Duration {
	return rc.PageDeadline * time.Duration(rc.MaxPagesPerScholar)
}
