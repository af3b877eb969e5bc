// Package pdf locates open-access PDF copies for publications after a run
// completes. Work items live in a database queue so attempts survive
// restarts; a small worker pool drains the queue, trying each configured
// resolver in order and backing off between failed attempts.
package pdf

import (
	"context"
	"errors"
	"time"

	"github.com/scholarr/scholarr/go/util"
	"github.com/scholarr/scholarr/scholarr/go/config"
	"github.com/scholarr/scholarr/scholarr/go/publication"
)

// ErrNoOpenAccess is returned by a Resolver that definitively knows no
// open-access copy exists at its source. Only when every resolver reports it
// does the item fail terminally; any transient error keeps the item
// retryable.
var ErrNoOpenAccess = errors.New("no open access copy located")

// Status is the lifecycle state of one queue item.
type Status string

const (
	// StatusQueued items are waiting for their next_attempt_dt.
	StatusQueued Status = "queued"

	// StatusRunning items are claimed by a worker.
	StatusRunning Status = "running"

	// StatusResolved items found a PDF. Terminal.
	StatusResolved Status = "resolved"

	// StatusFailed items heard from every source that no open-access copy
	// exists. Terminal; only the operator retry endpoint re-queues.
	StatusFailed Status = "failed"

	// StatusAbandoned items spent their whole attempt budget on transient
	// failures without ever getting a definitive answer. Terminal; only
	// the operator retry endpoint re-queues.
	StatusAbandoned Status = "abandoned"
)

// Item is one unit of PDF resolution work.
type Item struct {
	ID            int64
	PublicationID int64
	Status        Status

	// AttemptCount is incremented when a worker claims the item, so it
	// names the attempt currently underway.
	AttemptCount int

	// NextAttemptDt is when a queued item becomes due.
	NextAttemptDt time.Time

	LastError string
	UpdatedAt time.Time
}

// Policy is the retry envelope for PDF resolution.
type Policy struct {
	// BaseDelay is the backoff after the first failed attempt.
	BaseDelay time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// MaxAttempts is the attempt budget before the item fails terminally.
	MaxAttempts int
}

// PolicyFromConfig extracts the PDF retry policy from an instance config.
func PolicyFromConfig(cfg *config.InstanceConfig) Policy {
	return Policy{
		BaseDelay:   time.Duration(cfg.PdfBaseDelaySeconds) * time.Second,
		MaxBackoff:  time.Duration(cfg.PdfMaxBackoffSeconds) * time.Second,
		MaxAttempts: cfg.PdfMaxAttempts,
	}
}

// Backoff returns the delay scheduled after the given failed attempt,
// doubling per attempt and capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return p.MaxBackoff
	}
	return util.MinDuration(p.BaseDelay<<(attempt-1), p.MaxBackoff)
}

// Store is the persistent PDF work queue. At most one live (queued or
// running) item exists per publication.
type Store interface {
	// Enqueue adds a work item for the publication, immediately due.
	// Returns false without error when a live item already exists.
	Enqueue(ctx context.Context, publicationID int64) (bool, error)

	// ClaimDue atomically claims up to limit due items, marking them
	// running and incrementing their attempt counts. Claimed items are
	// invisible to other claimants.
	ClaimDue(ctx context.Context, limit int) ([]*Item, error)

	// Resolve marks a claimed item done because a PDF was found.
	Resolve(ctx context.Context, itemID int64) error

	// Reschedule returns a claimed item to the queue after a transient
	// failure, due again after the policy backoff for its attempt count.
	Reschedule(ctx context.Context, itemID int64, lastError string) (*Item, error)

	// Fail marks a claimed item terminally failed.
	Fail(ctx context.Context, itemID int64, lastError string) error

	// Abandon marks a claimed item terminally abandoned because its
	// attempt budget ran out.
	Abandon(ctx context.Context, itemID int64, lastError string) error

	// RequeueStaleRunning returns items stuck in running longer than
	// olderThan to the queue, reclaiming work lost to a crashed worker.
	RequeueStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Resolver is one source of open-access PDFs. Implementations return the PDF
// URL, ErrNoOpenAccess when the source definitively has none, or any other
// error for transient trouble.
type Resolver interface {
	Resolve(ctx context.Context, pub *publication.Publication) (string, error)

	// Name identifies the resolver in logs.
	Name() string
}
