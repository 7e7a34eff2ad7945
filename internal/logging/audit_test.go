package logging

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
)

func TestLogAuditEvent(t *testing.T) {
	data := &sinkData{}
	logger := logr.New(&capturingSink{data: data})

	LogAuditEvent(logger, "RepositoryMutated", map[string]string{
		"repository": "backups",
		"method":     "PUT",
		"endpoint":   "http://localhost:9200",
	})

	assert.Equal(t, AuditMessage, data.msg)
	assert.Equal(t, []any{
		"audit", "true",
		"event_type", "RepositoryMutated",
		"endpoint", "http://localhost:9200",
		"method", "PUT",
		"repository", "backups",
	}, data.keysAndValues)
}

func TestWarn(t *testing.T) {
	data := &sinkData{}
	logger := logr.New(&capturingSink{data: data}).WithValues("pass", "1")

	Warn(logger, "half-configured credentials", "endpoint", "http://localhost:9200")

	assert.Equal(t, "half-configured credentials", data.msg)
	assert.Equal(t, []any{"pass", "1", "warning", true, "endpoint", "http://localhost:9200"}, data.keysAndValues)
}

type sinkData struct {
	msg           string
	keysAndValues []any
}

// capturingSink implements logr.LogSink
type capturingSink struct {
	data     *sinkData
	localKVs []any
}

func (s *capturingSink) Init(info logr.RuntimeInfo) {}
func (s *capturingSink) Enabled(level int) bool     { return true }
func (s *capturingSink) Info(level int, msg string, keysAndValues ...any) {
	s.data.msg = msg
	allKVs := append([]any{}, s.localKVs...)
	s.data.keysAndValues = append(allKVs, keysAndValues...)
}
func (s *capturingSink) Error(err error, msg string, keysAndValues ...any) {
	s.data.msg = msg
	allKVs := append([]any{}, s.localKVs...)
	s.data.keysAndValues = append(allKVs, keysAndValues...)
}
func (s *capturingSink) WithValues(keysAndValues ...any) logr.LogSink {
	return &capturingSink{
		data:     s.data,
		localKVs: append(append([]any{}, s.localKVs...), keysAndValues...),
	}
}
func (s *capturingSink) WithName(name string) logr.LogSink {
	return s
}
