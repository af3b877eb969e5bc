package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/eventbus"
	"github.com/scholarr/scholarr/go/sser/mocks"
	"github.com/scholarr/scholarr/go/testutils"
)

func TestMarshal_PublicationDiscovered_ProducesTypedEnvelope(t *testing.T) {
	ev := PublicationDiscovered{
		PublicationID:    12,
		ScholarProfileID: 3,
		Title:            "Sketch of the Analytical Engine",
		FirstSeenAt:      time.Date(2024, time.March, 1, 10, 0, 0, 0, time.UTC),
		PubURL:           "https://example.org/notes",
	}
	got, err := Marshal(ev)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "publication_discovered",
		"data": {
			"publication_id": 12,
			"scholar_profile_id": 3,
			"title": "Sketch of the Analytical Engine",
			"first_seen_at": "2024-03-01T10:00:00Z",
			"pub_url": "https://example.org/notes"
		}
	}`, got)
}

func TestMarshal_RunCompleted_ProducesTypedEnvelope(t *testing.T) {
	got, err := Marshal(RunCompleted{
		Outcome: "partial_failure",
		Summary: RunSummary{
			ScholarCount:        4,
			NewPublicationCount: 17,
			FailedCount:         1,
			PartialCount:        1,
		},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{
		"type": "run_completed",
		"data": {
			"outcome": "partial_failure",
			"summary": {
				"scholar_count": 4,
				"new_publication_count": 17,
				"failed_count": 1,
				"partial_count": 1
			}
		}
	}`, got)
}

func TestMarshal_UnknownPayload_ReturnsError(t *testing.T) {
	_, err := Marshal(struct{ X int }{X: 1})
	require.Error(t, err)
}

func TestPublisher_NilPublisher_PublishesNothingWithoutPanicking(t *testing.T) {
	var p *Publisher
	p.PublicationDiscovered(PublicationDiscovered{})
	p.IdentifierUpdated(IdentifierUpdated{})
	p.Progress(1, 2)
	p.Completed("success", RunSummary{})
	p.Wait()
}

func TestBridge_ForwardsPublishedEventsToTheRunStreamInOrder(t *testing.T) {
	const runID = int64(7)
	bus := eventbus.New()
	srv := mocks.NewServer(t)

	var sent []string
	srv.On("Send", testutils.AnyContext, StreamName(runID), mock.Anything).Run(func(args mock.Arguments) {
		sent = append(sent, args.String(2))
	}).Return(nil)

	unsub := Bridge(context.Background(), bus, srv, runID)
	defer unsub()

	p := NewPublisher(bus, runID)
	p.PublicationDiscovered(PublicationDiscovered{PublicationID: 1, Title: "one"})
	p.IdentifierUpdated(IdentifierUpdated{PublicationID: 1, DisplayIdentifier: "doi:10.1000/one"})
	p.Completed("success", RunSummary{ScholarCount: 1, NewPublicationCount: 1})
	p.Wait()

	require.Len(t, sent, 3)
	require.Contains(t, sent[0], `"type":"publication_discovered"`)
	require.Contains(t, sent[1], `"type":"identifier_updated"`)
	require.Contains(t, sent[2], `"type":"run_completed"`)
}

func TestBridge_EventsForOtherRuns_NotForwarded(t *testing.T) {
	bus := eventbus.New()
	srv := mocks.NewServer(t)

	unsub := Bridge(context.Background(), bus, srv, 7)
	defer unsub()

	other := NewPublisher(bus, 8)
	other.Progress(1, 1)
	other.Wait()
	bus.Wait(RunTopic(7))
	// The mock has no Send expectation; any forwarded event would fail the
	// test on cleanup.
}
