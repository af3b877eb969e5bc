// Package events defines the typed payloads published on the event bus
// while a run executes, the per-run topic naming, and the bridge that
// forwards those events to connected SSE clients.
//
// Delivery is best effort: subscriber queues are bounded and drop the
// oldest event on overflow, and clients that are not connected when an
// event fires never see it. Clients reconcile through the REST API on
// reconnect.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/scholarr/scholarr/go/eventbus"
	"github.com/scholarr/scholarr/go/skerr"
	"github.com/scholarr/scholarr/go/sklog"
	"github.com/scholarr/scholarr/go/sser"
)

// SubscriberQueueSize is the per-subscriber queue capacity for run topics.
const SubscriberQueueSize = 256

// Event type tags, also the "type" field of the SSE wire envelope.
const (
	TypePublicationDiscovered = "publication_discovered"
	TypeIdentifierUpdated     = "identifier_updated"
	TypeRunProgress           = "run_progress"
	TypeRunCompleted          = "run_completed"
)

// PublicationDiscovered fires once per publication row the moment its upsert
// and link commit, in page order.
type PublicationDiscovered struct {
	PublicationID    int64     `json:"publication_id"`
	ScholarProfileID int64     `json:"scholar_profile_id"`
	Title            string    `json:"title"`
	FirstSeenAt      time.Time `json:"first_seen_at"`
	PubURL           string    `json:"pub_url,omitempty"`
}

// IdentifierUpdated fires when enrichment attaches or improves a
// publication's display identifier. Always after that publication's
// PublicationDiscovered on the same topic.
type IdentifierUpdated struct {
	PublicationID     int64  `json:"publication_id"`
	DisplayIdentifier string `json:"display_identifier"`
}

// RunProgress reports scholars processed so far out of the run's total.
type RunProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// RunSummary is the count block carried by RunCompleted.
type RunSummary struct {
	ScholarCount        int `json:"scholar_count"`
	NewPublicationCount int `json:"new_publication_count"`
	FailedCount         int `json:"failed_count"`
	PartialCount        int `json:"partial_count"`
}

// RunCompleted is always the final event on a run topic.
type RunCompleted struct {
	Outcome string     `json:"outcome"`
	Summary RunSummary `json:"summary"`
}

// envelope is the wire form sent over SSE.
type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// RunTopic returns the event bus topic for one run.
func RunTopic(runID int64) string {
	return fmt.Sprintf("run/%d", runID)
}

// StreamName returns the SSE stream name for one run.
func StreamName(runID int64) string {
	return fmt.Sprintf("run-%d", runID)
}

// typeOf maps a payload to its wire type tag.
func typeOf(data interface{}) (string, error) {
	switch data.(type) {
	case PublicationDiscovered:
		return TypePublicationDiscovered, nil
	case IdentifierUpdated:
		return TypeIdentifierUpdated, nil
	case RunProgress:
		return TypeRunProgress, nil
	case RunCompleted:
		return TypeRunCompleted, nil
	}
	return "", skerr.Fmt("unknown run event payload type %T", data)
}

// Marshal returns the JSON wire form of one event payload.
func Marshal(data interface{}) (string, error) {
	t, err := typeOf(data)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(envelope{Type: t, Data: data})
	if err != nil {
		return "", skerr.Wrap(err)
	}
	return string(b), nil
}

// Publisher publishes the run's events onto its topic. A nil *Publisher is
// valid and publishes nothing, so pipeline code does not have to branch when
// no subscriber can exist.
type Publisher struct {
	bus   eventbus.EventBus
	topic string
}

// NewPublisher returns a Publisher bound to the given run's topic.
func NewPublisher(bus eventbus.EventBus, runID int64) *Publisher {
	return &Publisher{
		bus:   bus,
		topic: RunTopic(runID),
	}
}

// PublicationDiscovered publishes one discovered publication.
func (p *Publisher) PublicationDiscovered(ev PublicationDiscovered) {
	p.publish(ev)
}

// IdentifierUpdated publishes one identifier improvement.
func (p *Publisher) IdentifierUpdated(ev IdentifierUpdated) {
	p.publish(ev)
}

// Progress publishes the scholars-processed count.
func (p *Publisher) Progress(processed, total int) {
	p.publish(RunProgress{Processed: processed, Total: total})
}

// Completed publishes the terminal event. Nothing may be published on the
// topic after this.
func (p *Publisher) Completed(outcome string, summary RunSummary) {
	p.publish(RunCompleted{Outcome: outcome, Summary: summary})
}

// Wait blocks until every event already queued for this topic's subscribers
// has been delivered or dropped. Used before tearing the run's stream down.
func (p *Publisher) Wait() {
	if p == nil {
		return
	}
	p.bus.Wait(p.topic)
}

func (p *Publisher) publish(data interface{}) {
	if p == nil {
		return
	}
	p.bus.Publish(p.topic, data)
}

// Bridge subscribes to the run's topic and forwards each event to the run's
// SSE stream. The returned function unsubscribes; call it after the
// RunCompleted event has drained (Publisher.Wait).
func Bridge(ctx context.Context, bus eventbus.EventBus, srv sser.Server, runID int64) func() {
	stream := StreamName(runID)
	return bus.SubscribeAsync(RunTopic(runID), func(data interface{}) {
		msg, err := Marshal(data)
		if err != nil {
			sklog.Errorf("Marshaling run event: %s", err)
			return
		}
		if err := srv.Send(ctx, stream, msg); err != nil {
			sklog.Warningf("Sending run event to stream %s: %s", stream, err)
		}
	})
}
