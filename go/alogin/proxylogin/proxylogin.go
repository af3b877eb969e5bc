// Package proxylogin implements alogin.Login when letting a reverse proxy
// handle authentication.
package proxylogin

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/scholarr/scholarr/go/alogin"
	"github.com/scholarr/scholarr/go/sklog"
)

// WebAuthHeaderName is the default header used by the reverse proxy to pass
// along the authenticated user's email.
const WebAuthHeaderName = "X-WEBAUTH-USER"

// ProxyLogin implements alogin.Login by relying on a reverse proxy doing the
// authentication and then passing the user's logged in status via header
// value.
//
// See https://grafana.com/docs/grafana/latest/auth/auth-proxy/ and
// https://cloud.google.com/iap/docs/identity-howto#getting_the_users_identity_with_signed_headers
type ProxyLogin struct {
	// headerName is the name of the header we expect to have the users email.
	headerName string

	// emailRegex is an optional regex to extract the email address from the
	// header value.
	emailRegex *regexp.Regexp
}

// New returns a new instance of ProxyLogin.
//
// headerName is the name of the header that contains the proxy authentication
// information.
//
// emailRegex is a regex to extract the email address from the header value.
// This value can be nil. This is useful for reverse proxies that include
// other information in the header in addition to the email address, such as
// https://cloud.google.com/iap/docs/identity-howto#getting_the_users_identity_with_signed_headers
//
// If supplied, the regex must have a single subexpression that matches the
// email address.
func New(headerName string, emailRegex *regexp.Regexp) *ProxyLogin {
	return &ProxyLogin{
		headerName: headerName,
		emailRegex: emailRegex,
	}
}

// NewWithDefaults calls New with the default header name.
func NewWithDefaults() *ProxyLogin {
	return New(WebAuthHeaderName, nil)
}

// LoggedInAs implements alogin.Login.
func (p *ProxyLogin) LoggedInAs(r *http.Request) alogin.EMail {
	value := r.Header.Get(p.headerName)
	value = strings.TrimSpace(value)
	if p.emailRegex == nil {
		return alogin.EMail(value)
	}
	submatches := p.emailRegex.FindStringSubmatch(value)
	if len(submatches) != 2 {
		sklog.Errorf("Wrong number of regex matches for %q: %q", value, submatches)
		return alogin.NotLoggedIn
	}
	return alogin.EMail(submatches[1])
}

// Status implements alogin.Login.
func (p *ProxyLogin) Status(r *http.Request) alogin.Status {
	return alogin.Status{
		EMail: p.LoggedInAs(r),
	}
}

// Assert ProxyLogin implements alogin.Login.
var _ alogin.Login = (*ProxyLogin)(nil)
