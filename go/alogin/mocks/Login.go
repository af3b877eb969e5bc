package mocks

import (
	"net/http"

	"github.com/stretchr/testify/mock"

	"github.com/scholarr/scholarr/go/alogin"
)

// Login is a mock of alogin.Login for tests.
type Login struct {
	mock.Mock
}

// NewLogin returns a new Login mock whose expectations are asserted when the
// test finishes.
func NewLogin(t interface {
	mock.TestingT
	Cleanup(func())
}) *Login {
	m := &Login{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// LoggedInAs provides a mock function with given fields: r
func (m *Login) LoggedInAs(r *http.Request) alogin.EMail {
	args := m.Called(r)
	return args.Get(0).(alogin.EMail)
}

// Status provides a mock function with given fields: r
func (m *Login) Status(r *http.Request) alogin.Status {
	args := m.Called(r)
	return args.Get(0).(alogin.Status)
}

// Ensure Login fulfills alogin.Login.
var _ alogin.Login = (*Login)(nil)
