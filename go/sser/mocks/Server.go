package mocks

import (
	"context"
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/scholarr/scholarr/go/sser"
)

// Server is a mock of sser.Server for tests.
type Server struct {
	mock.Mock
}

// NewServer returns a new Server mock whose expectations are asserted when
// the test finishes.
func NewServer(t interface {
	mock.TestingT
	Cleanup(func())
}) *Server {
	m := &Server{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Start provides a mock function with given fields: ctx
func (m *Server) Start(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// ClientConnectionHandler provides a mock function with given fields: ctx
func (m *Server) ClientConnectionHandler(ctx context.Context) http.HandlerFunc {
	args := m.Called(ctx)
	return args.Get(0).(http.HandlerFunc)
}

// Send provides a mock function with given fields: ctx, stream, msg
func (m *Server) Send(ctx context.Context, stream string, msg string) error {
	args := m.Called(ctx, stream, msg)
	return args.Error(0)
}

// Ensure Server fulfills sser.Server.
var _ sser.Server = (*Server)(nil)
