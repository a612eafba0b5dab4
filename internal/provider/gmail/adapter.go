package gmail

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/relgraph/relgraph/internal/provider"
)

// TokenSourceFunc resolves an account's OAuth token source on demand, e.g.
// oauth.Manager.TokenSource.
type TokenSourceFunc func(ctx context.Context, account string) (oauth2.TokenSource, error)

// Adapter implements provider.Provider across any number of Gmail
// accounts, lazily creating one rate-limited Client per account the
// Coordinator touches.
type Adapter struct {
	tokenSource TokenSourceFunc
	rateLimitQPS float64
	concurrency  int
	logger       *slog.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithAdapterLogger sets the logger passed to every per-account Client.
func WithAdapterLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = logger }
}

// WithAdapterRateLimitQPS sets the per-account rate limit QPS.
func WithAdapterRateLimitQPS(qps float64) AdapterOption {
	return func(a *Adapter) { a.rateLimitQPS = qps }
}

// WithAdapterConcurrency sets the per-account BatchGetMessages concurrency.
func WithAdapterConcurrency(n int) AdapterOption {
	return func(a *Adapter) { a.concurrency = n }
}

// NewAdapter returns an Adapter that resolves account tokens via tokenSource.
func NewAdapter(tokenSource TokenSourceFunc, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		tokenSource:  tokenSource,
		rateLimitQPS: 5.0,
		concurrency:  10,
		logger:       slog.Default(),
		clients:      make(map[string]*Client),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) clientFor(ctx context.Context, account string) (*Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[account]; ok {
		return c, nil
	}

	ts, err := a.tokenSource(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("token source for %s: %w", account, err)
	}

	c := NewClient(account, ts,
		WithLogger(a.logger),
		WithConcurrency(a.concurrency),
		WithRateLimiter(NewRateLimiter(a.rateLimitQPS)),
	)
	a.clients[account] = c
	return c, nil
}

func (a *Adapter) GetProfile(ctx context.Context, account string) (*provider.Profile, error) {
	c, err := a.clientFor(ctx, account)
	if err != nil {
		return nil, err
	}
	return c.getProfile(ctx)
}

func (a *Adapter) ListMessages(ctx context.Context, account, query, pageToken string) (*provider.MessagePage, error) {
	c, err := a.clientFor(ctx, account)
	if err != nil {
		return nil, err
	}
	return c.listMessages(ctx, query, pageToken)
}

func (a *Adapter) GetMessage(ctx context.Context, account, messageID string) (*provider.Message, error) {
	c, err := a.clientFor(ctx, account)
	if err != nil {
		return nil, err
	}
	return c.getMessage(ctx, messageID)
}

func (a *Adapter) BatchGetMessages(ctx context.Context, account string, messageIDs []string) ([]*provider.Message, error) {
	c, err := a.clientFor(ctx, account)
	if err != nil {
		return nil, err
	}
	return c.batchGetMessages(ctx, messageIDs)
}

func (a *Adapter) GetHistory(ctx context.Context, account, cursor, pageToken string) (*provider.HistoryPage, error) {
	c, err := a.clientFor(ctx, account)
	if err != nil {
		return nil, err
	}
	return c.getHistory(ctx, cursor, pageToken)
}

var _ provider.Provider = (*Adapter)(nil)
