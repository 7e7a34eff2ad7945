package elasticsearch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
	"github.com/dc-tec/snaprepo-operator/internal/logging"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
)

const (
	defaultRateLimitBurst             = 1
	defaultCircuitBreakerOpenDuration = 30 * time.Second
)

// Response is the outcome of a call that reached the remote, or of a
// read-only call whose connection failed (NoData).
type Response struct {
	StatusCode int
	Body       []byte
	// NoData is set when a read-only call lost its connection. Callers treat
	// it as "nothing there yet".
	NoData bool
}

// OK reports a 200 response.
func (r *Response) OK() bool {
	return r != nil && !r.NoData && r.StatusCode == http.StatusOK
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

type circuitBreaker struct {
	failures         int
	state            circuitState
	openUntil        time.Time
	halfOpenInFlight bool
}

// clientState manages rate limiting and circuit breaking for one endpoint.
// A nil limiter or a zero threshold disables the corresponding feature.
type clientState struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	breakers map[string]*circuitBreaker

	failureThreshold int
	openDuration     time.Duration
}

func newClientState(cfg ClientConfig) *clientState {
	s := &clientState{
		breakers:         make(map[string]*circuitBreaker),
		failureThreshold: cfg.CircuitBreakerFailureThreshold,
		openDuration:     cfg.CircuitBreakerOpenDuration,
	}
	if cfg.RateLimitQPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = defaultRateLimitBurst
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitQPS), burst)
	}
	if s.openDuration <= 0 {
		s.openDuration = defaultCircuitBreakerOpenDuration
	}
	return s
}

func (s *clientState) requestKey(req *http.Request) string {
	return fmt.Sprintf("%s %s", req.Method, req.URL.Path)
}

func (s *clientState) allow(ctx context.Context, req *http.Request) error {
	if s == nil {
		return nil
	}

	wasHalfOpenProbe := false
	var br *circuitBreaker
	if s.failureThreshold > 0 {
		reqKey := s.requestKey(req)
		now := time.Now()

		s.mu.Lock()
		br = s.breakers[reqKey]
		if br == nil {
			br = &circuitBreaker{state: circuitClosed}
			s.breakers[reqKey] = br
		}

		switch br.state {
		case circuitOpen:
			if now.Before(br.openUntil) {
				until := br.openUntil
				s.mu.Unlock()
				return operatorerrors.WrapRemoteUnreachable(
					fmt.Errorf("circuit breaker open for %s %s (retry after %s)", req.URL.Host, reqKey, time.Until(until).Truncate(time.Second)),
				)
			}
			br.state = circuitHalfOpen
			br.halfOpenInFlight = false
		case circuitHalfOpen:
			if br.halfOpenInFlight {
				s.mu.Unlock()
				return operatorerrors.WrapRemoteUnreachable(
					fmt.Errorf("circuit breaker half-open (probe in-flight) for %s %s", req.URL.Host, reqKey),
				)
			}
		case circuitClosed:
		}

		if br.state == circuitHalfOpen {
			br.halfOpenInFlight = true
			wasHalfOpenProbe = true
		}
		s.mu.Unlock()
	}

	if s.limiter == nil {
		return nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		if wasHalfOpenProbe {
			s.mu.Lock()
			br.halfOpenInFlight = false
			s.mu.Unlock()
		}
		return operatorerrors.WrapRemoteTimeout(fmt.Errorf("rate limiter: %w", err))
	}
	return nil
}

func (s *clientState) after(req *http.Request, success bool) {
	if s == nil || s.failureThreshold <= 0 {
		return
	}

	reqKey := s.requestKey(req)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	br := s.breakers[reqKey]
	if br == nil {
		br = &circuitBreaker{state: circuitClosed}
		s.breakers[reqKey] = br
	}

	switch br.state {
	case circuitHalfOpen:
		br.halfOpenInFlight = false
		if success {
			br.state = circuitClosed
			br.failures = 0
			br.openUntil = time.Time{}
			return
		}
		br.state = circuitOpen
		br.failures = s.failureThreshold
		br.openUntil = now.Add(s.openDuration)
	case circuitOpen:
		if success {
			br.state = circuitClosed
			br.failures = 0
			br.openUntil = time.Time{}
		}
	case circuitClosed:
		if success {
			br.failures = 0
			return
		}
		br.failures++
		if br.failures >= s.failureThreshold {
			br.state = circuitOpen
			br.openUntil = now.Add(s.openDuration)
		}
	}
}

// Transport issues HTTP requests against a connection profile.
type Transport struct {
	clients *ClientManager
	logger  logr.Logger
}

// NewTransport returns a Transport that draws its clients from clients.
// A nil manager gets a private one with smart-client features disabled.
func NewTransport(clients *ClientManager, logger logr.Logger) *Transport {
	if clients == nil {
		clients = NewClientManager(ClientConfig{})
	}
	return &Transport{clients: clients, logger: logger}
}

func isReadOnly(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// Send issues one request. Connection failures on read-only methods are
// reported as a NoData response; on mutating methods they are returned as
// ErrRemoteUnreachable. Timeouts always surface as ErrRemoteTimeout.
func (t *Transport) Send(ctx context.Context, p profile.Profile, method, path string, body []byte) (*Response, error) {
	op := fmt.Sprintf("%s %s%s", method, p.BaseURL(), path)

	client, err := t.clients.clientFor(p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	switch {
	case p.HasCredentials():
		req.SetBasicAuth(p.Username, p.Password)
	case p.HasPartialCredentials():
		logging.Warn(t.logger, "Only one of username and password is set; sending request without authentication",
			"endpoint", p.BaseURL(), "method", method)
	}

	if err := client.state.allow(ctx, req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	resp, err := client.http.Do(req)
	if err != nil {
		client.state.after(req, false)
		return t.connectionFailure(method, op, err)
	}
	defer drainAndClose(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		client.state.after(req, false)
		return t.connectionFailure(method, op, fmt.Errorf("failed to read response body: %w", err))
	}

	client.state.after(req, resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500)

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (t *Transport) connectionFailure(method, op string, err error) (*Response, error) {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if operatorerrors.IsTimeout(err) {
		return nil, operatorerrors.WrapRemoteTimeout(wrapped)
	}
	if isReadOnly(method) {
		t.logger.V(1).Info("Read-only request lost its connection; treating as no data", "request", op, "error", err.Error())
		return &Response{NoData: true}, nil
	}
	return nil, operatorerrors.WrapRemoteUnreachable(wrapped)
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
