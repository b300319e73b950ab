package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// TestLogBuffer captures JSON log output for assertions. It is safe for
// concurrent writers.
type TestLogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *TestLogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *TestLogBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Records decodes every captured line. Lines that are not JSON are skipped.
func (b *TestLogBuffer) Records() []map[string]any {
	var records []map[string]any
	sc := bufio.NewScanner(strings.NewReader(b.String()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err == nil {
			records = append(records, rec)
		}
	}
	return records
}

// GetTestLogger returns a debug-level JSON logger and the buffer it writes to.
func GetTestLogger(t *testing.T) (*slog.Logger, *TestLogBuffer) {
	t.Helper()
	buf := &TestLogBuffer{}
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// AssertLogContains fails the test unless the captured output contains want.
func AssertLogContains(t *testing.T, buf *TestLogBuffer, want string) {
	t.Helper()
	if out := buf.String(); !strings.Contains(out, want) {
		t.Errorf("log does not contain %q\nlog:\n%s", want, out)
	}
}

// AssertLogField fails the test unless some record carries key with value
// want. Numbers decode as float64.
func AssertLogField(t *testing.T, buf *TestLogBuffer, key string, want any) {
	t.Helper()
	records := buf.Records()
	for _, rec := range records {
		if v, ok := rec[key]; ok && v == want {
			return
		}
	}
	t.Errorf("no log record has %s=%v (%d records)\nlog:\n%s", key, want, len(records), buf.String())
}
