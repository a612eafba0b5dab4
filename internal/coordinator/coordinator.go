// Package coordinator drives one account's mailbox through the cold
// batch / hot incremental / full-rescan state machine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relgraph/relgraph/internal/ingest"
	"github.com/relgraph/relgraph/internal/provider"
	"github.com/relgraph/relgraph/internal/store"
)

// epochDay is the earliest day the cold batch catch-up windows back to when
// no earlier sync state has been persisted.
const epochDay = "2000-01-01"

const dayFormat = "2006-01-02"

// fullRescanPageSize is the processing/commit granularity for a full
// rescan, independent of the provider transport's own page size.
const fullRescanPageSize = 100

// Mode reports which phase of the state machine a RunOnce call executed.
type Mode string

const (
	ModeBatch       Mode = "batch"
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// Summary reports what one RunOnce call accomplished.
type Summary struct {
	Mode              Mode
	Account           string
	PagesFetched      int
	MessagesSeen      int
	MessagesProcessed int
	MessagesSkipped   int
	Errors            []string // per-message processing failures; the invocation is not aborted by these
	Completed         bool     // true if this call reached the end of work available, false if it stopped on the wall-clock budget
	Duration          time.Duration
}

// Coordinator wires a Provider and Processor together under one account's
// persisted SyncState.
type Coordinator struct {
	store     *store.Store
	provider  provider.Provider
	processor *ingest.Processor
	logger    *slog.Logger
	budget    time.Duration
}

// New returns a Coordinator. budget bounds the wall-clock time a single
// RunOnce call may spend before it must checkpoint and return.
func New(s *store.Store, p provider.Provider, proc *ingest.Processor, budget time.Duration) *Coordinator {
	return &Coordinator{store: s, provider: p, processor: proc, logger: slog.Default(), budget: budget}
}

// WithLogger sets the logger.
func (c *Coordinator) WithLogger(logger *slog.Logger) *Coordinator {
	c.logger = logger
	return c
}

// RunOnce advances account's sync by at most c.budget of wall-clock time,
// choosing cold batch catch-up, hot incremental, or full-rescan mode based
// on the account's persisted SyncState.
func (c *Coordinator) RunOnce(ctx context.Context, account string) (*Summary, error) {
	start := time.Now()
	deadline := start.Add(c.budget)

	st, err := c.store.ReadSyncState(account)
	if err != nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}

	var summary *Summary
	switch {
	case st.FullRescanPending:
		summary, err = c.runFull(ctx, account, st, deadline)
	case !st.ProviderCursor.Valid:
		summary, err = c.runBatch(ctx, account, st, deadline)
	default:
		summary, err = c.runIncremental(ctx, account, st, deadline)
		if isCursorExpired(err) {
			c.logger.Warn("history cursor expired, falling back to full rescan", "account", account)
			if resetErr := c.beginFullRescan(account, st); resetErr != nil {
				return nil, fmt.Errorf("begin full rescan: %w", resetErr)
			}
			summary, err = c.runFull(ctx, account, st, deadline)
		}
	}
	if err != nil {
		return nil, err
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

func isCursorExpired(err error) bool {
	var cursorErr *provider.CursorExpiredError
	return errors.As(err, &cursorErr)
}

// beginFullRescan marks st as entering the last-resort full_sync
// reconciliation: the expired history cursor and any leftover batch/page
// state are cleared so runFull starts from a flat, unwindowed walk.
func (c *Coordinator) beginFullRescan(account string, st *store.SyncState) error {
	st.FullRescanPending = true
	st.ProviderCursor = sqlString("")
	st.BatchDay = sqlString("")
	st.PageToken = sqlString("")
	st.PageNumber = 0
	return c.store.WriteSyncState(st)
}

// runFull performs the last-resort full rescan: a flat walk of every
// message with no per-day window, committed in pages of
// fullRescanPageSize regardless of the provider transport's own page
// size. On completion it seeds a fresh provider cursor and clears
// FullRescanPending, handing back off to incremental mode.
func (c *Coordinator) runFull(ctx context.Context, account string, st *store.SyncState, deadline time.Time) (*Summary, error) {
	summary := &Summary{Mode: ModeFull, Account: account}

	pageToken := ""
	if st.PageToken.Valid {
		pageToken = st.PageToken.String
	}

	for {
		if time.Now().After(deadline) {
			st.PageToken = sqlString(pageToken)
			if err := c.store.WriteSyncState(st); err != nil {
				return nil, fmt.Errorf("checkpoint full rescan state: %w", err)
			}
			return summary, nil
		}

		page, err := c.provider.ListMessages(ctx, account, "", pageToken)
		if err != nil {
			return nil, fmt.Errorf("list messages for full rescan: %w", err)
		}
		summary.PagesFetched++

		for len(page.Messages) > 0 {
			if time.Now().After(deadline) {
				st.PageToken = sqlString(pageToken)
				if err := c.store.WriteSyncState(st); err != nil {
					return nil, fmt.Errorf("checkpoint full rescan state: %w", err)
				}
				return summary, nil
			}
			n := fullRescanPageSize
			if n > len(page.Messages) {
				n = len(page.Messages)
			}
			if err := c.processRefs(ctx, account, page.Messages[:n], summary); err != nil {
				return nil, err
			}
			page.Messages = page.Messages[n:]
		}

		pageToken = page.NextPageToken
		st.PageToken = sqlString(pageToken)
		if err := c.store.WriteSyncState(st); err != nil {
			return nil, fmt.Errorf("checkpoint full rescan state: %w", err)
		}

		if pageToken == "" {
			break
		}
	}

	profile, err := c.provider.GetProfile(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get profile after full rescan: %w", err)
	}
	st.ProviderCursor = sqlString(profile.Cursor)
	st.PageToken = sqlString("")
	st.FullRescanPending = false
	st.LastSyncAt = sqlNow()
	if err := c.store.WriteSyncState(st); err != nil {
		return nil, fmt.Errorf("record cursor after full rescan: %w", err)
	}

	summary.Completed = true
	return summary, nil
}

// runBatch performs day-windowed cold catch-up: one day's worth of
// messages per page loop, advancing BatchDay forward until it reaches
// today, then handing off to incremental mode by recording a fresh
// provider cursor.
func (c *Coordinator) runBatch(ctx context.Context, account string, st *store.SyncState, deadline time.Time) (*Summary, error) {
	summary := &Summary{Mode: ModeBatch, Account: account}

	day := epochDay
	if st.BatchDay.Valid {
		day = st.BatchDay.String
	}
	pageToken := ""
	if st.PageToken.Valid {
		pageToken = st.PageToken.String
	}

	today := time.Now().UTC().Format(dayFormat)

	for day <= today {
		if time.Now().After(deadline) {
			st.BatchDay = sqlString(day)
			st.PageToken = sqlString(pageToken)
			if err := c.store.WriteSyncState(st); err != nil {
				return nil, fmt.Errorf("checkpoint batch state: %w", err)
			}
			return summary, nil
		}

		query := batchDayQuery(day)
		page, err := c.provider.ListMessages(ctx, account, query, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list messages for %s: %w", day, err)
		}
		summary.PagesFetched++

		if err := c.processRefs(ctx, account, page.Messages, summary); err != nil {
			return nil, err
		}

		pageToken = page.NextPageToken
		st.BatchDay = sqlString(day)
		st.PageToken = sqlString(pageToken)
		st.PageNumber++
		if err := c.store.WriteSyncState(st); err != nil {
			return nil, fmt.Errorf("checkpoint batch state: %w", err)
		}

		if pageToken == "" {
			day = nextDay(day)
			st.PageNumber = 0
		}
	}

	profile, err := c.provider.GetProfile(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("get profile after batch catch-up: %w", err)
	}
	st.ProviderCursor = sqlString(profile.Cursor)
	st.PageToken = sqlString("")
	st.LastSyncAt = sqlNow()
	if err := c.store.WriteSyncState(st); err != nil {
		return nil, fmt.Errorf("record initial cursor: %w", err)
	}

	summary.Completed = true
	return summary, nil
}

// runIncremental polls the provider's history API from the persisted
// cursor and processes every added message.
func (c *Coordinator) runIncremental(ctx context.Context, account string, st *store.SyncState, deadline time.Time) (*Summary, error) {
	summary := &Summary{Mode: ModeIncremental, Account: account}

	cursor := st.ProviderCursor.String
	pageToken := ""
	if st.PageToken.Valid {
		pageToken = st.PageToken.String
	}

	for {
		if time.Now().After(deadline) {
			st.PageToken = sqlString(pageToken)
			if err := c.store.WriteSyncState(st); err != nil {
				return nil, fmt.Errorf("checkpoint incremental state: %w", err)
			}
			return summary, nil
		}

		page, err := c.provider.GetHistory(ctx, account, cursor, pageToken)
		if err != nil {
			return nil, err
		}
		summary.PagesFetched++

		if len(page.AddedMessageIDs) > 0 {
			refs := make([]provider.MessageRef, len(page.AddedMessageIDs))
			for i, id := range page.AddedMessageIDs {
				refs[i] = provider.MessageRef{ID: id}
			}
			if err := c.processRefs(ctx, account, refs, summary); err != nil {
				return nil, err
			}
		}

		pageToken = page.NextPageToken
		st.PageToken = sqlString(pageToken)
		if page.Cursor != "" {
			cursor = page.Cursor
			st.ProviderCursor = sqlString(cursor)
		}
		if err := c.store.WriteSyncState(st); err != nil {
			return nil, fmt.Errorf("checkpoint incremental state: %w", err)
		}

		if pageToken == "" {
			break
		}
	}

	st.LastSyncAt = sqlNow()
	if err := c.store.WriteSyncState(st); err != nil {
		return nil, fmt.Errorf("record sync completion: %w", err)
	}
	summary.Completed = true
	return summary, nil
}

// processRefs fetches and runs the message processor over one page of
// message references.
func (c *Coordinator) processRefs(ctx context.Context, account string, refs []provider.MessageRef, summary *Summary) error {
	if len(refs) == 0 {
		return nil
	}

	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}

	messages, err := c.provider.BatchGetMessages(ctx, account, ids)
	if err != nil {
		return fmt.Errorf("batch get messages: %w", err)
	}

	for _, msg := range messages {
		summary.MessagesSeen++
		if msg == nil {
			// One bad fetch in the batch never blocks the rest of the page.
			// The message is not marked processed, but the page token or
			// cursor still advances past it, so later runs do not revisit it.
			c.logger.Warn("message fetch failed, skipping", "account", account)
			continue
		}

		result, err := c.processor.ProcessMessage(account, msg)
		if err != nil {
			// A single message's processing failure (parse, DB) is recorded
			// against the invocation and the page continues; the message
			// stays marked-processed and is not retried automatically.
			c.logger.Error("message processing failed, continuing page", "account", account, "message_id", msg.ID, "error", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("message %s: %v", msg.ID, err))
			continue
		}
		if result.Skipped {
			summary.MessagesSkipped++
		} else {
			summary.MessagesProcessed++
		}
	}

	return nil
}

func batchDayQuery(day string) string {
	next := nextDay(day)
	return fmt.Sprintf("after:%s before:%s", day, next)
}

func nextDay(day string) string {
	t, err := time.Parse(dayFormat, day)
	if err != nil {
		return day
	}
	return t.AddDate(0, 0, 1).Format(dayFormat)
}
