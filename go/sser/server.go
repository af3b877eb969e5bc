// Package sser implements Server-Sent Events (SSE) for sending events to
// connected web clients.
package sser

import (
	"context"
	"net/http"
)

// QueryParameterName is the name of the query parameter that carries the
// stream name on client connections.
const QueryParameterName = "stream"

// Server sends messages to connected clients on named streams. Messages are
// best effort: clients that are not connected when a message is sent never
// see it.
type Server interface {
	// Start the background processes the server needs. Must be called before
	// Send or ClientConnectionHandler.
	Start(ctx context.Context) error

	// ClientConnectionHandler returns an http.HandlerFunc that handles
	// incoming client connections that want to receive events. The stream
	// name is given in the query parameter named QueryParameterName.
	ClientConnectionHandler(ctx context.Context) http.HandlerFunc

	// Send the msg to all clients connected to the given stream.
	Send(ctx context.Context, stream string, msg string) error
}
