package sser

import (
	"context"
	"errors"
	"net/http"
	"sync"

	sse "github.com/r3labs/sse/v2"

	"github.com/scholarr/scholarr/go/httputils"
	"github.com/scholarr/scholarr/go/metrics2"
	"github.com/scholarr/scholarr/go/skerr"
)

const (
	// 100 was picked as a rough guess.
	serverSendChannelSize = 100

	clientConnectionsMetricName = "sser_server_client_connections"
)

var (
	ErrStreamNameRequired = errors.New("a stream name is required as part of the query parameters")

	// ErrOnlySendNoneEmptyMessages because if you send an empty string, the client may mistake that as being no message.
	ErrOnlySendNoneEmptyMessages = errors.New("you cannot send the empty string as a message over SSE")

	errNotStarted = errors.New("server has not been started")
)

// event carries one message from Send() into the go routine that runs from
// Start.
type event struct {
	stream string
	msg    string
}

// ServerImpl implements Server.
type ServerImpl struct {
	// The SSE server implementation.
	server *sse.Server

	// Carries messages to be sent from Send() into the go routine that runs
	// from Start.
	sendCh chan event

	mtx     sync.Mutex
	started bool
}

// New returns a new Server.
func New() *ServerImpl {
	server := sse.New()
	// Replaying history to every reconnecting client would re-deliver stale
	// events, so streams only carry live messages.
	server.AutoReplay = false
	return &ServerImpl{
		server: server,
		sendCh: make(chan event, serverSendChannelSize),
	}
}

// Start implements Server.
func (s *ServerImpl) Start(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.started {
		return skerr.Fmt("Start may only be called once")
	}
	s.started = true

	go func() {
		for {
			select {
			case <-ctx.Done():
				s.server.Close()
				return
			case e := <-s.sendCh:
				s.server.Publish(e.stream, &sse.Event{
					Data: []byte(e.msg),
				})
			}
		}
	}()

	return nil
}

// ClientConnectionHandler implements Server.
func (s *ServerImpl) ClientConnectionHandler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamName := r.FormValue(QueryParameterName)
		if streamName == "" {
			httputils.ReportError(w, ErrStreamNameRequired, "A stream name must be supplied", http.StatusBadRequest)
			return
		}
		if !s.server.StreamExists(streamName) {
			s.server.CreateStream(streamName)
		}
		c := metrics2.GetCounter(clientConnectionsMetricName, map[string]string{QueryParameterName: streamName})
		c.Inc(1)
		s.server.ServeHTTP(w, r)
		c.Dec(1)
	}
}

// Send implements Server.
func (s *ServerImpl) Send(ctx context.Context, stream string, msg string) error {
	if msg == "" {
		return ErrOnlySendNoneEmptyMessages
	}
	s.mtx.Lock()
	started := s.started
	s.mtx.Unlock()
	if !started {
		return skerr.Wrap(errNotStarted)
	}

	select {
	case s.sendCh <- event{stream: stream, msg: msg}:
	case <-ctx.Done():
		return skerr.Wrap(ctx.Err())
	}
	return nil
}

var _ Server = (*ServerImpl)(nil)
