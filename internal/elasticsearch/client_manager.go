package elasticsearch

import (
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
)

// ClientConfig holds the smart-client limits applied to every endpoint.
// Zero values disable the corresponding feature.
type ClientConfig struct {
	// RateLimitQPS is the per-endpoint request rate. Zero disables rate limiting.
	RateLimitQPS float64
	// RateLimitBurst defaults to 1 when rate limiting is enabled.
	RateLimitBurst int
	// CircuitBreakerFailureThreshold is the number of consecutive failures per
	// route before the circuit opens. Zero disables the breaker.
	CircuitBreakerFailureThreshold int
	// CircuitBreakerOpenDuration defaults to 30s when the breaker is enabled.
	CircuitBreakerOpenDuration time.Duration
}

// BindFlags registers flags for the client limits on fs.
func (c *ClientConfig) BindFlags(fs *flag.FlagSet) {
	fs.Float64Var(&c.RateLimitQPS, "es-rate-limit-qps", 0,
		"Per-endpoint request rate towards Elasticsearch. Zero disables rate limiting.")
	fs.IntVar(&c.RateLimitBurst, "es-rate-limit-burst", 1, "Per-endpoint request burst towards Elasticsearch.")
	fs.IntVar(&c.CircuitBreakerFailureThreshold, "es-circuit-breaker-threshold", 5,
		"Consecutive failures before requests to an endpoint are short-circuited. Zero disables the breaker.")
	fs.DurationVar(&c.CircuitBreakerOpenDuration, "es-circuit-breaker-open-duration", 30*time.Second,
		"How long an open circuit rejects requests before probing the endpoint again.")
}

type endpointClient struct {
	http  *http.Client
	state *clientState
}

// ClientManager centralizes HTTP client lifecycle. It holds one client per
// distinct connection profile so TLS settings never leak across endpoints.
type ClientManager struct {
	mu      sync.RWMutex
	clients map[profile.Profile]*endpointClient

	defaults ClientConfig
}

// NewClientManager creates a new ClientManager with the given limits.
func NewClientManager(defaults ClientConfig) *ClientManager {
	return &ClientManager{
		clients:  make(map[profile.Profile]*endpointClient),
		defaults: defaults,
	}
}

// clientFor returns the cached client for p, building it on first use.
func (m *ClientManager) clientFor(p profile.Profile) (*endpointClient, error) {
	// Fast path: check with read lock
	m.mu.RLock()
	if c, ok := m.clients[p]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if c, ok := m.clients[p]; ok {
		return c, nil
	}

	httpClient, err := newHTTPClient(p)
	if err != nil {
		return nil, err
	}
	c := &endpointClient{
		http:  httpClient,
		state: newClientState(m.defaults),
	}
	m.clients[p] = c
	return c, nil
}

// Forget drops the client for p. The next call builds a fresh one.
func (m *ClientManager) Forget(p profile.Profile) {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.clients[p]; ok {
		c.http.CloseIdleConnections()
		delete(m.clients, p)
	}
}

// Close releases idle connections of every cached client.
// After Close is called, the ClientManager should not be used.
func (m *ClientManager) Close() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.clients {
		c.http.CloseIdleConnections()
	}
	m.clients = make(map[profile.Profile]*endpointClient)
}

// EndpointCount returns the number of profiles with a cached client.
func (m *ClientManager) EndpointCount() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.clients)
}

// newHTTPClient builds a client whose connect, TLS handshake, response header
// and overall deadlines all equal the profile timeout.
func newHTTPClient(p profile.Profile) (*http.Client, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if !p.ValidateTLS {
		// Scoped to this profile's client only.
		tlsConfig.InsecureSkipVerify = true //nolint:gosec
	}

	pool, err := loadCAPool(p.CAFile, p.CAPath)
	if err != nil {
		return nil, err
	}
	tlsConfig.RootCAs = pool

	dialer := &net.Dialer{
		Timeout:   p.Timeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   p.Timeout,
		ResponseHeaderTimeout: p.Timeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   p.Timeout,
	}, nil
}

// loadCAPool returns nil (system roots) when neither a CA file nor a CA path
// is set. Otherwise only the supplied material is trusted.
func loadCAPool(caFile, caPath string) (*x509.CertPool, error) {
	if caFile == "" && caPath == "" {
		return nil, nil
	}

	pool := x509.NewCertPool()

	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, operatorerrors.NewValidationError("ca_file", caFile, fmt.Sprintf("failed to read CA file: %v", err))
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, operatorerrors.NewValidationError("ca_file", caFile, "failed to parse CA certificate")
		}
	}

	if caPath != "" {
		entries, err := os.ReadDir(caPath)
		if err != nil {
			return nil, operatorerrors.NewValidationError("ca_path", caPath, fmt.Sprintf("failed to read CA directory: %v", err))
		}
		loaded := 0
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(caPath, entry.Name()))
			if err != nil {
				continue
			}
			if pool.AppendCertsFromPEM(pem) {
				loaded++
			}
		}
		if loaded == 0 {
			return nil, operatorerrors.NewValidationError("ca_path", caPath, "no PEM certificates found")
		}
	}

	return pool, nil
}
