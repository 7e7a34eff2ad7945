// Package profile defines the connection parameters needed to reach one
// Elasticsearch HTTP endpoint and the total parsing functions that turn loosely
// typed declaration input into them.
//
// A Profile is a comparable value: two profiles are equal iff every field
// matches, and that equality is the discovery deduplication key. Profiles are
// never mutated after New returns, so they are safe to share between goroutines.
package profile

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
)

// Protocol is the URL scheme used to reach the endpoint.
type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Profile is an immutable bundle of transport parameters for one endpoint.
type Profile struct {
	Protocol    Protocol
	Host        string
	Port        int
	ValidateTLS bool
	// CAFile and CAPath are optional. Both may be set.
	CAFile  string
	CAPath  string
	Timeout time.Duration
	// Username and Password are optional and only used when both are set.
	Username string
	Password string
}

// Raw is the loosely typed form produced by a catalog. Unset fields are nil and
// receive defaults; set fields are parsed with the Parse* functions below.
type Raw struct {
	Protocol    any
	Host        any
	Port        any
	ValidateTLS any
	CAFile      string
	CAPath      string
	Timeout     any
	Username    string
	Password    string
}

// New parses raw into a Profile, applying defaults for unset fields.
// Any ambiguous value fails closed with a ValidationError.
func New(raw Raw) (Profile, error) {
	p := Profile{
		CAFile:   raw.CAFile,
		CAPath:   raw.CAPath,
		Username: raw.Username,
		Password: raw.Password,
	}

	var err error
	if p.Protocol, err = ParseProtocol(raw.Protocol); err != nil {
		return Profile{}, err
	}
	if p.Host, err = ParseHost(raw.Host); err != nil {
		return Profile{}, err
	}
	if p.Port, err = ParsePort(raw.Port); err != nil {
		return Profile{}, err
	}
	if p.ValidateTLS, err = ParseBool("validate_tls", raw.ValidateTLS, constants.DefaultValidateTLS); err != nil {
		return Profile{}, err
	}
	seconds, err := ParseTimeout(raw.Timeout)
	if err != nil {
		return Profile{}, err
	}
	p.Timeout = time.Duration(seconds) * time.Second

	return p, nil
}

// Default returns the profile used when a declaration sets no connection fields.
func Default() Profile {
	p, _ := New(Raw{})
	return p
}

// BaseURL returns scheme://host:port without a trailing slash.
func (p Profile) BaseURL() string {
	return fmt.Sprintf("%s://%s", p.Protocol, net.JoinHostPort(p.Host, strconv.Itoa(p.Port)))
}

// HasCredentials reports whether both halves of basic auth are present.
func (p Profile) HasCredentials() bool {
	return p.Username != "" && p.Password != ""
}

// HasPartialCredentials reports whether exactly one of username/password is set.
func (p Profile) HasPartialCredentials() bool {
	return (p.Username != "") != (p.Password != "")
}

// String identifies the endpoint for logs without leaking the password.
func (p Profile) String() string {
	if p.Username != "" {
		return fmt.Sprintf("%s (user %s)", p.BaseURL(), p.Username)
	}
	return p.BaseURL()
}
