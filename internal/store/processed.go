package store

import "fmt"

// MarkProcessed records that messageID has been fully handled for account.
// The message processor commits this in its own transaction before the
// insertion and delta batches, so a ProcessedMessage row becomes visible
// before the mutation batch for that message is committed. A crash
// between the two leaves a message that looks processed but contributed
// no deltas, which is the deliberately chosen failure mode over the
// reverse: double-counting on retry.
func (s *Store) MarkProcessed(account, messageID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO processed_messages (message_id, account)
		VALUES (?, ?)
	`, messageID, account)
	if err != nil {
		return fmt.Errorf("mark processed %s/%s: %w", account, messageID, err)
	}
	return nil
}
