package deckapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phrazzld/scry-deck/internal/config"
	"github.com/phrazzld/scry-deck/internal/domain"
	"github.com/phrazzld/scry-deck/internal/events"
	"github.com/phrazzld/scry-deck/internal/generation"
	"github.com/phrazzld/scry-deck/internal/redact"
)

// Header names used by the generation service.
const (
	HeaderSessionID = "X-Session-ID"
	HeaderRequestID = "X-Request-ID"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Ensure Client implements generation.Service.
var _ generation.Service = (*Client)(nil)

// Client talks to the generation service over HTTP.
type Client struct {
	baseURL *url.URL

	// http carries the request timeout; streams has none because a run can
	// last for minutes and is bounded by the caller's context instead.
	http    *http.Client
	streams *http.Client

	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewClient creates a Client from the client configuration.
func NewClient(cfg config.ClientConfig, log *slog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.NewValidationError("server_url", "must be an absolute URL", err)
	}
	if log == nil {
		log = slog.Default()
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}

	return &Client{
		baseURL:    base,
		http:       &http.Client{Timeout: timeout},
		streams:    &http.Client{},
		maxRetries: max(cfg.MaxRetries, 0),
		retryDelay: retryDelay,
		logger:     log.With(slog.String("component", "deckapi")),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// endpoint joins the escaped path onto the base URL.
func (c *Client) endpoint(escapedPath string, query url.Values) string {
	u := *c.baseURL
	u.RawPath = c.baseURL.EscapedPath() + escapedPath
	u.Path = c.baseURL.Path + escapedPath
	if p, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = p
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func sessionQuery(sessionID string) url.Values {
	return url.Values{"session_id": []string{sessionID}}
}

func sessionPath(sessionID string, rest ...string) string {
	parts := append([]string{"/api/sessions", url.PathEscape(sessionID)}, rest...)
	return strings.Join(parts, "/")
}

// Estimate implements generation.Service.
func (c *Client) Estimate(ctx context.Context, req generation.EstimateRequest) (domain.Estimation, error) {
	body, contentType, err := multipartBody(req.Document, map[string]string{
		"source_type": string(req.SourceType),
		"model":       req.Model,
	})
	if err != nil {
		return domain.Estimation{}, err
	}

	var est domain.Estimation
	err = c.do(ctx, "estimate", http.MethodPost, c.endpoint("/api/estimate", nil), contentType, body, &est)
	return est, err
}

// Generate implements generation.Service.
func (c *Client) Generate(ctx context.Context, req generation.Request) (string, events.Stream, error) {
	body, contentType, err := multipartBody(req.Document, map[string]string{
		"target_cards": strconv.Itoa(req.TargetCards),
		"source_type":  string(req.SourceType),
		"model":        req.Model,
		"deck_name":    req.DeckName,
	})
	if err != nil {
		return "", nil, err
	}

	resp, err := c.openStream(ctx, "generate", http.MethodPost, c.endpoint("/api/generate", nil), contentType, body)
	if err != nil {
		return "", nil, err
	}

	sessionID := resp.Header.Get(HeaderSessionID)
	if sessionID == "" {
		_ = resp.Body.Close()
		return "", nil, generation.NewRemoteError("generate", 0, "response has no session id", generation.ErrMissingSessionID)
	}

	c.logger.Debug("generation accepted",
		slog.String("session_id", sessionID))
	return sessionID, events.NewReader(resp.Body), nil
}

// StreamSession implements generation.Service.
func (c *Client) StreamSession(ctx context.Context, sessionID string) (events.Stream, error) {
	resp, err := c.openStream(ctx, "stream session", http.MethodGet, c.endpoint(sessionPath(sessionID, "events"), nil), "", nil)
	if err != nil {
		return nil, err
	}
	return events.NewReader(resp.Body), nil
}

// Cancel implements generation.Service.
func (c *Client) Cancel(ctx context.Context, sessionID string) error {
	return c.do(ctx, "cancel", http.MethodPost, c.endpoint(sessionPath(sessionID, "cancel"), nil), "", nil, nil)
}

// GetSession implements generation.Service.
func (c *Client) GetSession(ctx context.Context, sessionID string) (generation.SessionInfo, error) {
	var info generation.SessionInfo
	err := c.withRetry(ctx, "get session", func() error {
		return c.do(ctx, "get session", http.MethodGet, c.endpoint(sessionPath(sessionID), nil), "", nil, &info)
	})
	if info.ID == "" {
		info.ID = sessionID
	}
	return info, err
}

type cardsEnvelope struct {
	Cards []domain.Card `json:"cards"`
}

// GetDrafts implements generation.Service.
func (c *Client) GetDrafts(ctx context.Context, sessionID string) ([]domain.Card, error) {
	var out cardsEnvelope
	err := c.withRetry(ctx, "get drafts", func() error {
		return c.do(ctx, "get drafts", http.MethodGet, c.endpoint("/api/drafts", sessionQuery(sessionID)), "", nil, &out)
	})
	return out.Cards, err
}

// UpdateDraft implements generation.Service.
func (c *Client) UpdateDraft(ctx context.Context, sessionID string, index int, card domain.Card) error {
	body, err := jsonBody(card)
	if err != nil {
		return err
	}
	target := c.endpoint("/api/drafts/"+strconv.Itoa(index), sessionQuery(sessionID))
	return c.do(ctx, "update draft", http.MethodPut, target, "application/json", body, nil)
}

// DeleteDraft implements generation.Service.
func (c *Client) DeleteDraft(ctx context.Context, sessionID string, index int) error {
	target := c.endpoint("/api/drafts/"+strconv.Itoa(index), sessionQuery(sessionID))
	return c.do(ctx, "delete draft", http.MethodDelete, target, "", nil, nil)
}

// UpdateSessionCards implements generation.Service.
func (c *Client) UpdateSessionCards(ctx context.Context, sessionID string, cards []domain.Card) error {
	if cards == nil {
		cards = []domain.Card{}
	}
	body, err := jsonBody(cardsEnvelope{Cards: cards})
	if err != nil {
		return err
	}
	return c.do(ctx, "update session cards", http.MethodPut, c.endpoint(sessionPath(sessionID, "cards"), nil), "application/json", body, nil)
}

// DeleteSessionCard implements generation.Service.
func (c *Client) DeleteSessionCard(ctx context.Context, sessionID string, index int) error {
	target := c.endpoint(sessionPath(sessionID, "cards", strconv.Itoa(index)), nil)
	return c.do(ctx, "delete session card", http.MethodDelete, target, "", nil, nil)
}

// SyncDrafts implements generation.Service.
func (c *Client) SyncDrafts(ctx context.Context, sessionID string) (events.Stream, error) {
	resp, err := c.openStream(ctx, "sync drafts", http.MethodPost, c.endpoint("/api/drafts/sync", sessionQuery(sessionID)), "", nil)
	if err != nil {
		return nil, err
	}
	return events.NewReader(resp.Body), nil
}

// SyncSessionToAnki implements generation.Service.
func (c *Client) SyncSessionToAnki(ctx context.Context, sessionID string) (events.Stream, error) {
	resp, err := c.openStream(ctx, "sync session", http.MethodPost, c.endpoint(sessionPath(sessionID, "sync"), nil), "", nil)
	if err != nil {
		return nil, err
	}
	return events.NewReader(resp.Body), nil
}

// do performs a non-streaming request and decodes a JSON response into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, target, contentType string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, target, contentType, body)
	if err != nil {
		return generation.NewRemoteError(op, 0, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return generation.NewRemoteError(op, 0, "failed to decode response", fmt.Errorf("%w: %w", generation.ErrInvalidResponse, err))
	}
	return nil
}

// openStream performs a request whose body is an event stream. On success the
// caller owns resp.Body.
func (c *Client) openStream(ctx context.Context, op, method, target, contentType string, body []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, target, contentType, body)
	if err != nil {
		return nil, generation.NewRemoteError(op, 0, "failed to build request", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streams.Do(req)
	if err != nil {
		return nil, transportError(op, err)
	}
	if err := checkStatus(op, resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, target, contentType string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())
	return req, nil
}

// withRetry runs call until it succeeds, fails permanently, or maxRetries is
// exhausted, sleeping with exponential backoff and jitter between attempts.
func (c *Client) withRetry(ctx context.Context, op string, call func() error) error {
	log := c.logger

	var err error
	for attempt := 0; ; attempt++ {
		err = call()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if !generation.IsTransient(err) {
			return err
		}
		if attempt >= c.maxRetries {
			log.Warn("maximum retry attempts reached",
				slog.String("operation", op),
				slog.Int("max_retries", c.maxRetries),
				redact.Attr(err))
			return err
		}

		// delay = baseDelay * (2^attempt) * (0.5 + rand(0, 0.5))
		c.rngMu.Lock()
		jitter := 0.5 + c.rng.Float64()*0.5
		c.rngMu.Unlock()
		delay := time.Duration(float64(c.retryDelay) * math.Pow(2, float64(attempt)) * jitter)

		log.Info("retrying after delay",
			slog.String("operation", op),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
}

// transportError marks a failed round trip as transient unless the caller
// cancelled it.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return generation.NewRemoteError(op, 0, "request cancelled", err)
	}
	return generation.NewRemoteError(op, 0, "request failed", fmt.Errorf("%w: %w", generation.ErrUnavailable, err))
}

// checkStatus maps a non-2xx response to a RemoteError wrapping the matching
// sentinel.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	message := errorMessage(resp.Body)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		sentinel = generation.ErrSessionNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		sentinel = generation.ErrUnavailable
	default:
		sentinel = generation.ErrRejected
	}
	return generation.NewRemoteError(op, resp.StatusCode, message, sentinel)
}

// errorMessage extracts a human readable message from an error body. JSON
// bodies with a detail, error, or message field are unwrapped.
func errorMessage(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}

	var payload struct {
		Detail  any    `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		switch {
		case payload.Detail != nil:
			if s, ok := payload.Detail.(string); ok {
				return s
			}
			if b, err := json.Marshal(payload.Detail); err == nil {
				return string(b)
			}
		case payload.Error != "":
			return payload.Error
		case payload.Message != "":
			return payload.Message
		}
	}
	return text
}

func jsonBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return b, nil
}

// multipartBody builds a multipart/form-data body with the document under
// "file" and every non-empty field.
func multipartBody(doc generation.Document, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	contentType := doc.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "file",
		"filename": doc.FileName,
	}))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(doc.Content); err != nil {
		return nil, "", fmt.Errorf("failed to write file part: %w", err)
	}

	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
