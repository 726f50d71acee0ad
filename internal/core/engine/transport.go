package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shiftsync/shiftsync/internal/core/sync"
)

// Transport is the HTTP client for the push and pull endpoints.
type Transport struct {
	baseURL string
	client  *http.Client
}

func NewTransport(baseURL string, timeout time.Duration) *Transport {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Transport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type pushError struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Push POSTs one write to /sync/push and classifies the response into the
// engine's error taxonomy.
func (t *Transport) Push(ctx context.Context, req sync.PushRequest, token string) error {
	body, err := json.Marshal(req)
	if err != nil {
		return transient(fmt.Errorf("encode push: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/sync/push", bytes.NewReader(body))
	if err != nil {
		return transient(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return transient(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrInvalidKey, readErrorDetail(resp.Body))
	default:
		return transient(fmt.Errorf("push status %d: %s", resp.StatusCode, readErrorDetail(resp.Body)))
	}
}

// Pull GETs every document updated after since.
func (t *Transport) Pull(ctx context.Context, since time.Time, clientID, token string) ([]sync.Document, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	q.Set("clientId", clientID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/sync/pull?"+q.Encode(), nil)
	if err != nil {
		return nil, transient(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, transient(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		return nil, transient(fmt.Errorf("pull status %d", resp.StatusCode))
	}

	var out sync.PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// malformed body is transient; the next reconcile repeats the pull
		return nil, transient(fmt.Errorf("decode pull: %w", err))
	}
	return out.Docs, nil
}

func readErrorDetail(r io.Reader) string {
	var pe pushError
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&pe); err != nil {
		return "unreadable error body"
	}
	if pe.Details != "" {
		return pe.Error + ": " + pe.Details
	}
	return pe.Error
}
