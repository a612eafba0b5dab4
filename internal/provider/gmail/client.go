// Package gmail adapts the Gmail API to the Mail Provider Adapter boundary
// (internal/provider), the only concrete transport the Ingestion
// Coordinator can be pointed at outside of tests.
package gmail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/relgraph/relgraph/internal/provider"
)

const (
	baseURL        = "https://gmail.googleapis.com/gmail/v1"
	maxRetries     = 3
	maxBackoff     = 600 // seconds
	headerFormat   = "metadata&metadataHeaders=Date&metadataHeaders=From&metadataHeaders=To&metadataHeaders=Cc"
)

// Client talks to one Gmail account's API surface. It implements the
// lower-level calls the Adapter needs; see Adapter for the multi-account
// provider.Provider implementation.
type Client struct {
	account     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
	logger      *slog.Logger
	concurrency int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithConcurrency sets the max concurrent requests for BatchGetMessages.
func WithConcurrency(n int) ClientOption {
	return func(c *Client) { c.concurrency = n }
}

// WithRateLimiter sets a custom rate limiter.
func WithRateLimiter(rl *RateLimiter) ClientOption {
	return func(c *Client) { c.rateLimiter = rl }
}

// NewClient creates a Client scoped to one account's token source.
func NewClient(account string, tokenSource oauth2.TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		account:     account,
		httpClient:  oauth2.NewClient(context.Background(), tokenSource),
		concurrency: 10,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.rateLimiter == nil {
		c.rateLimiter = NewRateLimiter(5.0)
	}
	return c
}

// request makes an HTTP request with rate limiting and retry logic.
func (c *Client) request(ctx context.Context, op Operation, path string) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx, op); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	reqURL := baseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("retrying request", "attempt", attempt, "backoff", backoff, "path", path)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return respBody, nil
		}

		switch resp.StatusCode {
		case 429:
			c.logger.Debug("rate limited, backing off 30s", "path", path, "attempt", attempt)
			c.rateLimiter.Throttle(30 * time.Second)
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		case 403:
			if isRateLimitError(respBody) {
				c.logger.Debug("quota exceeded, backing off 60s", "path", path, "attempt", attempt)
				c.rateLimiter.Throttle(60 * time.Second)
				lastErr = fmt.Errorf("quota exceeded (403)")
				continue
			}
			return nil, &provider.TransientError{Op: path, Err: fmt.Errorf("forbidden (403): %s", string(respBody))}
		case 500, 502, 503, 504:
			lastErr = fmt.Errorf("server error (%d)", resp.StatusCode)
			continue
		case 401:
			return nil, fmt.Errorf("unauthorized (401): token may be invalid")
		case 404:
			return nil, &provider.NotFoundError{Account: c.account, MessageID: path}
		default:
			return nil, fmt.Errorf("request failed (%d): %s", resp.StatusCode, string(respBody))
		}
	}

	return nil, &provider.TransientError{Op: path, Err: fmt.Errorf("max retries exceeded: %w", lastErr)}
}

// calculateBackoff returns the backoff duration for a retry attempt, using
// exponential backoff (1s for the first retry, doubling each time) with
// full jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	base := float64(uint(1) << uint(attempt-1))
	if base > maxBackoff {
		base = maxBackoff
	}
	jittered := rand.Float64() * base
	return time.Duration(jittered * float64(time.Second))
}

// isRateLimitError checks if a 403 response is actually a rate limit error.
func isRateLimitError(body []byte) bool {
	return bytes.Contains(body, []byte("rateLimitExceeded")) ||
		bytes.Contains(body, []byte("userRateLimitExceeded"))
}

type profileResponse struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    string `json:"historyId"`
}

type gmailMessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type listMessagesResponse struct {
	Messages      []gmailMessageRef `json:"messages"`
	NextPageToken string            `json:"nextPageToken"`
}

type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type messagePayload struct {
	Headers []messageHeader `json:"headers"`
}

type messageResponse struct {
	ID           string         `json:"id"`
	ThreadID     string         `json:"threadId"`
	InternalDate string         `json:"internalDate"` // Unix millis, as a string
	Payload      messagePayload `json:"payload"`
}

type historyMessageChange struct {
	Message gmailMessageRef `json:"message"`
}

type historyEntry struct {
	MessagesAdded []historyMessageChange `json:"messagesAdded"`
}

type listHistoryResponse struct {
	History       []historyEntry `json:"history"`
	NextPageToken string         `json:"nextPageToken"`
	HistoryID     string         `json:"historyId"`
}

// getProfile returns the account's current identity and history cursor.
func (c *Client) getProfile(ctx context.Context) (*provider.Profile, error) {
	data, err := c.request(ctx, OpProfile, "/users/me/profile")
	if err != nil {
		return nil, err
	}
	var resp profileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return &provider.Profile{EmailAddress: resp.EmailAddress, Cursor: resp.HistoryID}, nil
}

// listMessages returns one page of message refs matching query.
func (c *Client) listMessages(ctx context.Context, query, pageToken string) (*provider.MessagePage, error) {
	params := url.Values{}
	params.Set("maxResults", "500")
	if query != "" {
		params.Set("q", query)
	}
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/me/messages?%s", params.Encode())
	data, err := c.request(ctx, OpMessagesList, path)
	if err != nil {
		return nil, err
	}

	var resp listMessagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}

	refs := make([]provider.MessageRef, len(resp.Messages))
	for i, m := range resp.Messages {
		refs[i] = provider.MessageRef{ID: m.ID, ThreadID: m.ThreadID}
	}
	return &provider.MessagePage{Messages: refs, NextPageToken: resp.NextPageToken}, nil
}

// getMessage fetches one message's Date/From/To/Cc headers and internal date.
func (c *Client) getMessage(ctx context.Context, messageID string) (*provider.Message, error) {
	path := fmt.Sprintf("/users/me/messages/%s?format=%s", messageID, headerFormat)
	data, err := c.request(ctx, OpMessagesGet, path)
	if err != nil {
		return nil, err
	}

	var resp messageResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return messageFromResponse(&resp), nil
}

func messageFromResponse(resp *messageResponse) *provider.Message {
	msg := &provider.Message{ID: resp.ID, ThreadID: resp.ThreadID}
	if millis, err := strconv.ParseInt(resp.InternalDate, 10, 64); err == nil {
		msg.InternalDate = time.UnixMilli(millis).UTC()
	}
	for _, h := range resp.Payload.Headers {
		switch h.Name {
		case "Date":
			msg.DateHeader = h.Value
		case "From":
			msg.FromHeader = h.Value
		case "To":
			msg.ToHeader = h.Value
		case "Cc":
			msg.CcHeader = h.Value
		}
	}
	return msg
}

// batchGetMessages fetches many messages in parallel, bounded by
// c.concurrency. A failed individual fetch becomes a nil entry rather than
// failing the whole batch.
func (c *Client) batchGetMessages(ctx context.Context, messageIDs []string) ([]*provider.Message, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	results := make([]*provider.Message, len(messageIDs))
	sem := make(chan struct{}, c.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i, id := range messageIDs {
		i, id := i, id
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return ctx.Err()
			}

			msg, err := c.getMessage(ctx, id)
			if err != nil {
				c.logger.Warn("failed to fetch message", "id", id, "error", err)
				return nil
			}
			results[i] = msg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// getHistory returns changes since cursor (a Gmail historyId). A 404
// response means the historyId is too old for Gmail to resolve, so it is
// surfaced as provider.CursorExpiredError for the Coordinator's fallback.
func (c *Client) getHistory(ctx context.Context, cursor, pageToken string) (*provider.HistoryPage, error) {
	startHistoryID, err := strconv.ParseUint(cursor, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse cursor %q: %w", cursor, err)
	}

	params := url.Values{}
	params.Set("startHistoryId", strconv.FormatUint(startHistoryID, 10))
	params.Add("historyTypes", "messageAdded")
	if pageToken != "" {
		params.Set("pageToken", pageToken)
	}

	path := fmt.Sprintf("/users/me/history?%s", params.Encode())
	data, err := c.request(ctx, OpHistoryList, path)
	if err != nil {
		var notFound *provider.NotFoundError
		if isNotFound(err, &notFound) {
			return nil, &provider.CursorExpiredError{Account: c.account, Cursor: cursor}
		}
		return nil, err
	}

	var resp listHistoryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse history: %w", err)
	}

	var added []string
	for _, entry := range resp.History {
		for _, m := range entry.MessagesAdded {
			added = append(added, m.Message.ID)
		}
	}

	return &provider.HistoryPage{
		AddedMessageIDs: added,
		NextPageToken:   resp.NextPageToken,
		Cursor:          resp.HistoryID,
	}, nil
}

func isNotFound(err error, target **provider.NotFoundError) bool {
	nf, ok := err.(*provider.NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}
