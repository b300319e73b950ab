package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/scry-deck/internal/document"
	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
	"github.com/phrazzld/scry-deck/internal/platform/deckapi"
)

// fakeService is an in-memory generation service behind a chi router.
type fakeService struct {
	mu      sync.Mutex
	drafts  []domain.Card
	history map[string][]domain.Card
	saved   map[string][]domain.Card
	cancels []string
}

func newFakeService() *fakeService {
	return &fakeService{
		drafts: []domain.Card{
			{Front: "What is ATP?", Back: "The energy currency of the cell"},
			{Text: "{{c1::Mitochondria}} produce ATP"},
		},
		history: map[string][]domain.Card{
			"old-1": {{Front: "Old question", Back: "Old answer"}},
		},
		saved: map[string][]domain.Card{},
	}
}

func (f *fakeService) router(t *testing.T) http.Handler {
	r := chi.NewRouter()

	r.Post("/api/estimate", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, domain.Estimation{
			TokenCount:     12000,
			PageCount:      4,
			ImageCount:     2,
			ModelID:        "gemini-2.5-flash",
			SuggestedCards: 12,
		})
	})

	r.Post("/api/generate", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(deckapi.HeaderSessionID, "sess-1")
		writeSSE(t, w,
			events.RawEvent{Type: events.TypeStepStart, Phase: "parsing"},
			events.RawEvent{Type: events.TypeLog, Message: "read 4 pages"},
			events.RawEvent{Type: events.TypeDone, Message: "finished"},
		)
	})

	r.Get("/api/drafts", func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "sess-1", req.URL.Query().Get("session_id"))
		f.mu.Lock()
		defer f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"cards": f.drafts})
	})

	r.Get("/api/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		f.mu.Lock()
		defer f.mu.Unlock()
		if id == "sess-1" {
			writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "completed", "cards": f.drafts})
			return
		}
		cards, ok := f.history[id]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "session not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "status": "completed", "cards": cards})
	})

	r.Put("/api/sessions/{id}/cards", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Cards []domain.Card `json:"cards"`
		}
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		f.mu.Lock()
		f.saved[chi.URLParam(req, "id")] = body.Cards
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Post("/api/sessions/{id}/cancel", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.cancels = append(f.cancels, chi.URLParam(req, "id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	return r
}

func writeSSE(t *testing.T, w http.ResponseWriter, evs ...events.RawEvent) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, ev := range evs {
		b, err := json.Marshal(ev)
		assert.NoError(t, err)
		_, _ = fmt.Fprintf(w, "data: %s\n\n", b)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// testEnv is a config file pointing at a fake service, with durable storage
// in a temp directory shared by every command run against it.
type testEnv struct {
	t          *testing.T
	dir        string
	configPath string
	service    *fakeService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	svc := newFakeService()
	srv := httptest.NewServer(svc.router(t))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "scry-deck.yaml")
	cfg := fmt.Sprintf(`client:
  server_url: %s
  log_level: error
  request_timeout: 5s
  max_retries: 0
  retry_delay: 1ms
storage:
  path: %s
anki:
  url: http://127.0.0.1:1
`, srv.URL, filepath.Join(dir, "state.db"))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o600))

	return &testEnv{t: t, dir: dir, configPath: configPath, service: svc}
}

// run executes one command line and returns its stdout and error.
func (e *testEnv) run(args ...string) (string, error) {
	e.t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) writeDocument(name string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte("Lecture 4: cellular respiration\n\nATP is made in the mitochondria.\n"), 0o600))
	return path
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "scry-deck dev")
}

func TestHelpListsCommands(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, name := range []string{"generate", "recover", "status", "cancel", "load", "cards", "sync", "estimate", "reset"} {
		assert.Contains(t, out.String(), name)
	}
}

func TestExecuteReturnsNonZeroOnError(t *testing.T) {
	var errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{"generate"})

	assert.Equal(t, 1, execute(context.Background(), cmd))
	assert.Contains(t, errOut.String(), "Error:")
}

func TestEstimateCommand(t *testing.T) {
	env := newTestEnv(t)
	doc := env.writeDocument("lecture.txt")

	out, err := env.run("estimate", doc, "--cards", "8")
	require.NoError(t, err)

	assert.Contains(t, out, "file:      text, script")
	assert.Contains(t, out, "4 pages, 2 images, 12000 tokens")
	assert.Contains(t, out, "cards:     8 (suggested 12)")
	assert.Contains(t, out, "2.00 cards/page")
	assert.Contains(t, out, "cost:")
}

func TestEstimateRejectsUnknownSourceType(t *testing.T) {
	env := newTestEnv(t)
	doc := env.writeDocument("lecture.txt")

	_, err := env.run("estimate", doc, "--source", "video")
	assert.ErrorIs(t, err, domain.ErrInvalidSourceType)
}

func TestGenerateFollowsRunToReview(t *testing.T) {
	env := newTestEnv(t)
	doc := env.writeDocument("lecture.txt")

	out, err := env.run("generate", doc, "--cards", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "== parsing")
	assert.Contains(t, out, "read 4 pages")
	assert.Contains(t, out, "What is ATP?  =>  The energy currency of the cell")
	assert.Contains(t, out, "[cloze] {{c1::Mitochondria}} produce ATP")
	assert.Contains(t, out, "2 cards")
}

func TestGenerateRejectsUnsupportedFile(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "diagram.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00"), 0o600))

	_, err := env.run("generate", path, "--cards", "2")
	assert.ErrorIs(t, err, document.ErrUnsupported)
}

func TestGenerateMissingFile(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("generate", filepath.Join(env.dir, "missing.pdf"), "--cards", "2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestStatusWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "no active session")
}

func TestSessionSurvivesBetweenCommands(t *testing.T) {
	env := newTestEnv(t)
	doc := env.writeDocument("lecture.txt")

	_, err := env.run("generate", doc, "--cards", "2")
	require.NoError(t, err)

	out, err := env.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "session:  sess-1")
	assert.Contains(t, out, "status:   completed")
	assert.Contains(t, out, "drafts:   2 (0 in Anki)")
	assert.Contains(t, out, "anki:     unreachable")

	out, err = env.run("recover")
	require.NoError(t, err)
	assert.Contains(t, out, "What is ATP?")

	out, err = env.run("cards", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "2 cards")

	out, err = env.run("reset")
	require.NoError(t, err)
	assert.Contains(t, out, "session forgotten")

	out, err = env.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "no active session")
}

func TestRecoverWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("recover")
	require.NoError(t, err)
	assert.Contains(t, out, "no session to recover")
}

func TestCancelWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("cancel")
	assert.ErrorIs(t, err, errNoActiveSession)
}

func TestLoadHistoricalSession(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("load", "old-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Old question  =>  Old answer")

	_, err = env.run("load", "missing")
	assert.Error(t, err)
}

func TestEditHistoricalCard(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run("cards", "edit", "0", "--session", "old-1", "--set", "Back=A better answer")
	require.NoError(t, err)
	assert.Contains(t, out, "card 0 saved")

	env.service.mu.Lock()
	defer env.service.mu.Unlock()
	saved := env.service.saved["old-1"]
	require.Len(t, saved, 1)
	assert.Equal(t, "Old question", saved[0].Front)
	assert.Equal(t, "A better answer", saved[0].Back)
}

func TestEditValidatesArguments(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("cards", "edit", "x", "--session", "old-1", "--set", "Back=b")
	assert.ErrorContains(t, err, "invalid card index")

	_, err = env.run("cards", "edit", "0", "--session", "old-1")
	assert.ErrorContains(t, err, "nothing to change")

	_, err = env.run("cards", "edit", "0", "--session", "old-1", "--set", "Back")
	assert.ErrorContains(t, err, "expected FIELD=VALUE")

	_, err = env.run("cards", "edit", "5", "--session", "old-1", "--set", "Back=b")
	assert.ErrorIs(t, err, domain.ErrInvalidCardIndex)
}

func TestUnlinkRequiresAnkiNote(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run("cards", "unlink", "0", "--session", "old-1")
	assert.ErrorContains(t, err, "not linked to an Anki note")
}
