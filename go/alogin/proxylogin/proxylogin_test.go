package proxylogin

import (
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scholarr/scholarr/go/alogin"
)

const (
	goodHeaderName = "X-AUTH-USER"
	email          = "someone@example.org"
)

func TestLoggedInAs_HeaderIsMissing_ReturnsEmptyString(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	require.Equal(t, alogin.NotLoggedIn, New(goodHeaderName, nil).LoggedInAs(r))
}

func TestLoggedInAs_HeaderPresent_ReturnsUserEmail(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(goodHeaderName, email)
	require.Equal(t, alogin.EMail(email), New(goodHeaderName, nil).LoggedInAs(r))
}

func TestLoggedInAs_HeaderHasWhitespace_ReturnsTrimmedUserEmail(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(goodHeaderName, "  "+email+" ")
	require.Equal(t, alogin.EMail(email), New(goodHeaderName, nil).LoggedInAs(r))
}

func TestLoggedInAs_RegexProvided_ReturnsUserEmail(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(goodHeaderName, "accounts.google.com:"+email)
	login := New(goodHeaderName, regexp.MustCompile("accounts.google.com:(.*)"))
	require.Equal(t, alogin.EMail(email), login.LoggedInAs(r))
}

func TestLoggedInAs_RegexDoesNotMatch_ReturnsEmptyString(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(goodHeaderName, email)
	login := New(goodHeaderName, regexp.MustCompile("accounts.google.com:(.*)"))
	require.Equal(t, alogin.NotLoggedIn, login.LoggedInAs(r))
}

func TestStatus_HeaderPresent_ReturnsUserEmail(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(WebAuthHeaderName, email)
	require.Equal(t, alogin.Status{EMail: email}, NewWithDefaults().Status(r))
}
