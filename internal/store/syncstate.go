package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReadSyncState returns the persisted SyncState for account, or the zero
// value with Account set if no row exists yet (an account's first sync).
func (s *Store) ReadSyncState(account string) (*SyncState, error) {
	row := s.db.QueryRow(`
		SELECT account, provider_cursor, batch_day, page_token, page_number, full_rescan_pending, last_sync_at, updated_at
		FROM sync_state WHERE account = ?
	`, account)

	st := &SyncState{}
	err := row.Scan(&st.Account, &st.ProviderCursor, &st.BatchDay, &st.PageToken, &st.PageNumber, &st.FullRescanPending, &st.LastSyncAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return &SyncState{Account: account}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync state %s: %w", account, err)
	}
	return st, nil
}

// WriteSyncState upserts the full SyncState row for account. The
// coordinator calls this at every page boundary, not just at the end of
// a run, so a crash mid-run resumes from the last completed page rather
// than restarting.
func (s *Store) WriteSyncState(st *SyncState) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO sync_state (account, provider_cursor, batch_day, page_token, page_number, full_rescan_pending, last_sync_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account) DO UPDATE SET
			provider_cursor     = excluded.provider_cursor,
			batch_day            = excluded.batch_day,
			page_token           = excluded.page_token,
			page_number          = excluded.page_number,
			full_rescan_pending  = excluded.full_rescan_pending,
			last_sync_at         = excluded.last_sync_at,
			updated_at           = excluded.updated_at
	`, st.Account, st.ProviderCursor, st.BatchDay, st.PageToken, st.PageNumber, st.FullRescanPending, st.LastSyncAt, now)
	if err != nil {
		return fmt.Errorf("write sync state %s: %w", st.Account, err)
	}
	return nil
}
