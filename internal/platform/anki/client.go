package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/scry-deck/internal/config"
	"github.com/phrazzld/scry-deck/internal/domain"
)

// APIVersion is the AnkiConnect protocol version spoken by the client.
const APIVersion = 6

// Common errors returned by the client
var (
	// ErrUnreachable is returned when Anki is not running or AnkiConnect is
	// not installed.
	ErrUnreachable = errors.New("anki is unreachable")

	// ErrActionFailed is returned when AnkiConnect reports an error.
	ErrActionFailed = errors.New("anki action failed")
)

// Error describes a failed AnkiConnect action.
type Error struct {
	Action  string
	Message string
	Err     error
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	if e.Err != nil && e.Message != "" {
		return fmt.Sprintf("anki %s: %s: %v", e.Action, e.Message, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("anki %s: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("anki %s: %s", e.Action, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

type noteFields struct {
	ID     int64             `json:"id"`
	Fields map[string]string `json:"fields"`
}

// Client calls the AnkiConnect add-on.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a Client. timeout bounds each action; zero means 10s.
func NewClient(cfg config.AnkiConfig, timeout time.Duration, log *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, domain.NewValidationError("anki.url", "cannot be empty", domain.ErrValidation)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		url:    cfg.URL,
		http:   &http.Client{Timeout: timeout},
		logger: log.With(slog.String("component", "anki")),
	}, nil
}

// UpdateNoteFields replaces the field values of an existing note.
func (c *Client) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	params := map[string]any{"note": noteFields{ID: noteID, Fields: fields}}
	return c.invoke(ctx, "updateNoteFields", params, nil)
}

// DeleteNotes removes notes and all of their cards.
func (c *Client) DeleteNotes(ctx context.Context, noteIDs []int64) error {
	if len(noteIDs) == 0 {
		return nil
	}
	return c.invoke(ctx, "deleteNotes", map[string]any{"notes": noteIDs}, nil)
}

// Version returns the AnkiConnect version, which doubles as a reachability
// check.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v int
	err := c.invoke(ctx, "version", nil, &v)
	return v, err
}

func (c *Client) invoke(ctx context.Context, action string, params any, out any) error {
	log := c.logger

	body, err := json.Marshal(request{Action: action, Version: APIVersion, Params: params})
	if err != nil {
		return &Error{Action: action, Message: "failed to encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return &Error{Action: action, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Action: action, Err: fmt.Errorf("%w: %w", ErrUnreachable, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return &Error{
			Action:  action,
			Message: fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)),
			Err:     ErrActionFailed,
		}
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return &Error{Action: action, Message: "failed to decode response", Err: err}
	}
	if decoded.Error != nil {
		log.Warn("anki action failed",
			slog.String("action", action),
			slog.String("anki_error", *decoded.Error))
		return &Error{Action: action, Message: *decoded.Error, Err: ErrActionFailed}
	}

	if out != nil && len(decoded.Result) > 0 {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return &Error{Action: action, Message: "failed to decode result", Err: err}
		}
	}

	log.Debug("anki action succeeded", slog.String("action", action))
	return nil
}
