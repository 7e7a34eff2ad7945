// Package estest provides an in-memory stand-in for the Elasticsearch
// snapshot repository API, served over httptest.
package estest

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	"github.com/dc-tec/snaprepo-operator/internal/profile"
)

type repository struct {
	Type     string            `json:"type"`
	Settings map[string]string `json:"settings"`
}

type failure struct {
	method string
	status int
	body   string
}

// Cluster is a fake Elasticsearch endpoint. Settings are stored and returned
// as strings, the way Elasticsearch reports them.
type Cluster struct {
	Server *httptest.Server

	mu       sync.Mutex
	repos    map[string]repository
	requests map[string]int
	failures []failure
}

// TB is the part of testing.TB the cluster needs. GinkgoT() satisfies it.
type TB interface {
	Helper()
	Cleanup(func())
}

// NewCluster starts a fake cluster and registers its shutdown with t.
func NewCluster(t TB) *Cluster {
	t.Helper()

	c := &Cluster{
		repos:    make(map[string]repository),
		requests: make(map[string]int),
	}
	c.Server = httptest.NewServer(http.HandlerFunc(c.serveHTTP))
	t.Cleanup(c.Server.Close)
	return c
}

// Profile returns a connection profile for the cluster.
func (c *Cluster) Profile() profile.Profile {
	u, _ := url.Parse(c.Server.URL)
	host, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	return profile.Profile{
		Protocol:    profile.ProtocolHTTP,
		Host:        host,
		Port:        port,
		ValidateTLS: true,
		Timeout:     5 * time.Second,
	}
}

// Port returns the TCP port the cluster listens on.
func (c *Cluster) Port() int {
	return c.Profile().Port
}

// Seed registers a repository directly. Values are stored as given.
func (c *Cluster) Seed(name, repoType string, settings map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copied := make(map[string]string, len(settings))
	for k, v := range settings {
		copied[k] = v
	}
	c.repos[name] = repository{Type: repoType, Settings: copied}
}

// Repository returns the stored settings of name.
func (c *Cluster) Repository(name string) (string, map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	repo, ok := c.repos[name]
	return repo.Type, repo.Settings, ok
}

// Len returns the number of stored repositories.
func (c *Cluster) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.repos)
}

// FailNext makes the next request with method answer status and body.
func (c *Cluster) FailNext(method string, status int, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, failure{method: method, status: status, body: body})
}

// Requests returns how many requests were received for "METHOD /path".
func (c *Cluster) Requests(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[method+" "+path]
}

// MutatingRequests returns the number of PUT, POST and DELETE requests received.
func (c *Cluster) MutatingRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, count := range c.requests {
		if strings.HasPrefix(key, http.MethodPut+" ") || strings.HasPrefix(key, http.MethodDelete+" ") || strings.HasPrefix(key, http.MethodPost+" ") {
			n += count
		}
	}
	return n
}

func (c *Cluster) serveHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[r.Method+" "+r.URL.Path]++
	w.Header().Set("Content-Type", "application/json")

	for i, f := range c.failures {
		if f.method == r.Method {
			c.failures = append(c.failures[:i], c.failures[i+1:]...)
			w.WriteHeader(f.status)
			_, _ = w.Write([]byte(f.body))
			return
		}
	}

	if r.URL.Path == constants.APIPathSnapshot && r.Method == http.MethodGet {
		_ = json.NewEncoder(w).Encode(c.repos)
		return
	}

	name, ok := strings.CutPrefix(r.URL.Path, constants.APIPathSnapshotRepositoryPrefix)
	if !ok || name == "" {
		writeError(w, http.StatusNotFound, "no handler found for uri ["+r.URL.Path+"]")
		return
	}

	switch r.Method {
	case http.MethodGet:
		repo, exists := c.repos[name]
		if !exists {
			writeError(w, http.StatusNotFound, fmt.Sprintf("[%s] missing", name))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]repository{name: repo})
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil || !gjson.ValidBytes(body) {
			writeError(w, http.StatusBadRequest, "failed to parse request body")
			return
		}
		parsed := gjson.ParseBytes(body)
		repoType := parsed.Get("type").String()
		if repoType == "" {
			writeError(w, http.StatusBadRequest, "[type] is required")
			return
		}
		settings := map[string]string{}
		parsed.Get("settings").ForEach(func(key, value gjson.Result) bool {
			settings[key.String()] = value.String()
			return true
		})
		c.repos[name] = repository{Type: repoType, Settings: settings}
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	case http.MethodDelete:
		if _, exists := c.repos[name]; !exists {
			writeError(w, http.StatusNotFound, fmt.Sprintf("[%s] missing", name))
			return
		}
		delete(c.repos, name)
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"root_cause": []map[string]string{{"type": "repository_exception", "reason": reason}},
			"reason":     reason,
		},
		"status": status,
	})
}
