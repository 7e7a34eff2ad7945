package elasticsearch

import (
	"net"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/dc-tec/snaprepo-operator/internal/profile"
)

// profileFor returns a profile pointing at a test server URL.
func profileFor(t *testing.T, rawURL string) profile.Profile {
	t.Helper()

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse %q: %v", rawURL, err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split %q: %v", u.Host, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}

	return profile.Profile{
		Protocol:    profile.Protocol(u.Scheme),
		Host:        host,
		Port:        port,
		ValidateTLS: true,
		Timeout:     2 * time.Second,
	}
}

type logLine struct {
	prefix string
	args   string
}

// capturingLogger records every line written through it, including V(1).
func capturingLogger() (logr.Logger, *[]logLine) {
	var lines []logLine
	logger := funcr.New(func(prefix, args string) {
		lines = append(lines, logLine{prefix: prefix, args: args})
	}, funcr.Options{Verbosity: 1})
	return logger, &lines
}

func newTestDirectory(logger logr.Logger) (*Directory, *ClientManager) {
	mgr := NewClientManager(ClientConfig{})
	return NewDirectory(NewTransport(mgr, logger), logger), mgr
}
