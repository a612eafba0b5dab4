package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/ingest"
	"github.com/relgraph/relgraph/internal/provider"
	"github.com/relgraph/relgraph/internal/testutil/dbtest"
)

func newTestCoordinator(t *testing.T, mock *provider.Mock, budget time.Duration) (*Coordinator, *ingest.Processor) {
	s := dbtest.Open(t)
	engine := blacklist.New(s)
	proc := ingest.New(s, engine)
	return New(s, mock, proc, budget), proc
}

func TestRunOnce_ColdBatchCompletesAndEstablishesCursor(t *testing.T) {
	mock := provider.NewMock()
	mock.MessagePages = [][]provider.MessageRef{
		{{ID: "m1"}},
	}
	mock.Messages = map[string]*provider.Message{
		"m1": {ID: "m1", ThreadID: "t1", InternalDate: time.Now().UTC(), FromHeader: "alice@acme.com"},
	}
	mock.Profile = &provider.Profile{EmailAddress: "me@mine.com", Cursor: "cursor-1"}

	c, _ := newTestCoordinator(t, mock, time.Hour)

	summary, err := c.RunOnce(context.Background(), "me@mine.com")
	require.NoError(t, err)
	require.Equal(t, ModeBatch, summary.Mode)
	require.True(t, summary.Completed)
	require.Equal(t, 1, summary.MessagesProcessed)

	st, err := c.store.ReadSyncState("me@mine.com")
	require.NoError(t, err)
	require.True(t, st.ProviderCursor.Valid)
	require.Equal(t, "cursor-1", st.ProviderCursor.String)
}

func TestRunOnce_SwitchesToIncrementalOnceCursorEstablished(t *testing.T) {
	mock := provider.NewMock()
	mock.MessagePages = [][]provider.MessageRef{{}} // nothing in cold window
	mock.Profile = &provider.Profile{EmailAddress: "me@mine.com", Cursor: "cursor-1"}

	c, _ := newTestCoordinator(t, mock, time.Hour)

	_, err := c.RunOnce(context.Background(), "me@mine.com")
	require.NoError(t, err)

	mock.Messages = map[string]*provider.Message{
		"m2": {ID: "m2", ThreadID: "t2", InternalDate: time.Now().UTC(), FromHeader: "bob@acme.com"},
	}
	mock.HistoryPages = []provider.HistoryPage{
		{AddedMessageIDs: []string{"m2"}, Cursor: "cursor-2"},
	}

	summary, err := c.RunOnce(context.Background(), "me@mine.com")
	require.NoError(t, err)
	require.Equal(t, ModeIncremental, summary.Mode)
	require.Equal(t, 1, summary.MessagesProcessed)

	st, err := c.store.ReadSyncState("me@mine.com")
	require.NoError(t, err)
	require.Equal(t, "cursor-2", st.ProviderCursor.String)
}

func TestRunOnce_BudgetExpiryCheckpointsAndReturnsIncomplete(t *testing.T) {
	mock := provider.NewMock()
	mock.MessagePages = [][]provider.MessageRef{
		{{ID: "m1"}}, {{ID: "m2"}},
	}
	mock.Messages = map[string]*provider.Message{
		"m1": {ID: "m1", InternalDate: time.Now().UTC(), FromHeader: "alice@acme.com"},
		"m2": {ID: "m2", InternalDate: time.Now().UTC(), FromHeader: "bob@acme.com"},
	}

	c, _ := newTestCoordinator(t, mock, -time.Second) // already expired: stop before doing any work

	summary, err := c.RunOnce(context.Background(), "me@mine.com")
	require.NoError(t, err)
	require.False(t, summary.Completed)
}

func TestRunOnce_CursorExpiredTriggersFullRescan(t *testing.T) {
	mock := provider.NewMock()
	mock.Profile = &provider.Profile{EmailAddress: "me@mine.com", Cursor: "stale-cursor"}
	mock.MessagePages = [][]provider.MessageRef{{}}

	c, _ := newTestCoordinator(t, mock, time.Hour)
	_, err := c.RunOnce(context.Background(), "me@mine.com") // establishes cursor via cold batch
	require.NoError(t, err)

	mock.HistoryError = &provider.CursorExpiredError{Account: "me@mine.com", Cursor: "stale-cursor"}

	summary, err := c.RunOnce(context.Background(), "me@mine.com")
	require.NoError(t, err)
	require.Equal(t, ModeFull, summary.Mode)

	st, err := c.store.ReadSyncState("me@mine.com")
	require.NoError(t, err)
	require.False(t, st.FullRescanPending, "a completed full rescan clears the pending flag")
	require.True(t, st.ProviderCursor.Valid, "a completed full rescan seeds a fresh cursor, handing back off to incremental mode")
	require.Equal(t, "stale-cursor", st.ProviderCursor.String)
}

func TestRunOnce_IncrementalResumesAfterFullRescan(t *testing.T) {
	mock := provider.NewMock()
	mock.Profile = &provider.Profile{EmailAddress: "me@mine.com", Cursor: "stale-cursor"}
	mock.MessagePages = [][]provider.MessageRef{{}}

	c, _ := newTestCoordinator(t, mock, time.Hour)
	_, err := c.RunOnce(context.Background(), "me@mine.com") // establishes cursor via cold batch
	require.NoError(t, err)

	mock.HistoryError = &provider.CursorExpiredError{Account: "me@mine.com", Cursor: "stale-cursor"}
	_, err = c.RunOnce(context.Background(), "me@mine.com") // triggers and completes full rescan
	require.NoError(t, err)

	// A later RunOnce with no pending expiry stays in ordinary incremental mode.
	mock.HistoryError = nil
	mock.HistoryPages = []provider.HistoryPage{{Cursor: "stale-cursor"}}
	summary, err := c.RunOnce(context.Background(), "me@mine.com")
	require.NoError(t, err)
	require.Equal(t, ModeIncremental, summary.Mode)
}
