package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// StatDelta is the per-entity contribution of one message: relative
// counter increments plus the message's own date, from which first/last
// seen are derived independently of the counters.
type StatDelta struct {
	To          int64
	From        int64
	Included    int64
	MessageDate time.Time
}

// Add folds another delta's counters into this one. The same Contact can
// receive contributions from multiple addresses of the same message.
func (d StatDelta) Add(other StatDelta) StatDelta {
	d.To += other.To
	d.From += other.From
	d.Included += other.Included
	return d
}

// ThreadTouch is one {threadId, account, timestamp} reference to fold into
// a Contact's or EmailAddress's recent_threads list.
type ThreadTouch struct {
	ThreadID  string
	Account   string
	Timestamp time.Time
}

// NameUpgrade is a write-once name write staged for the batch commit.
type NameUpgrade struct {
	ContactID string // empty if this is an EmailAddress upgrade
	Address   string // empty if this is a Contact upgrade
	Name      string
}

// DeltaBatch is everything the message processor stages for one message,
// applied as a single batch. Order across entity kinds is unspecified;
// the only guarantee is that all deltas land before the next message for
// the same account begins.
type DeltaBatch struct {
	Companies      map[string]StatDelta    // company_id -> delta
	Domains        map[string]StatDelta    // domain -> delta
	Contacts       map[string]StatDelta    // contact_id -> delta
	Emails         map[string]StatDelta    // address -> delta
	ContactThreads map[string]ThreadTouch  // contact_id -> thread touch
	EmailThreads   map[string]ThreadTouch  // address -> thread touch
	NameUpgrades   []NameUpgrade
}

// NewDeltaBatch returns an empty batch ready for accumulation.
func NewDeltaBatch() *DeltaBatch {
	return &DeltaBatch{
		Companies:      make(map[string]StatDelta),
		Domains:        make(map[string]StatDelta),
		Contacts:       make(map[string]StatDelta),
		Emails:         make(map[string]StatDelta),
		ContactThreads: make(map[string]ThreadTouch),
		EmailThreads:   make(map[string]ThreadTouch),
	}
}

const maxRecentThreads = 100

// ApplyDeltas commits the full delta batch for one message as a single
// transaction. All multi-statement updates for a single message's commit
// are submitted as one batch.
func (s *Store) ApplyDeltas(batch *DeltaBatch) error {
	return s.withTx(func(tx *sql.Tx) error {
		for id, d := range batch.Companies {
			if err := applyStatDelta(tx, "companies", "id", id, d); err != nil {
				return fmt.Errorf("apply company delta %s: %w", id, err)
			}
		}
		for domain, d := range batch.Domains {
			if err := applyStatDelta(tx, "domains", "domain", domain, d); err != nil {
				return fmt.Errorf("apply domain delta %s: %w", domain, err)
			}
		}
		for id, d := range batch.Contacts {
			if err := applyStatDelta(tx, "contacts", "id", id, d); err != nil {
				return fmt.Errorf("apply contact delta %s: %w", id, err)
			}
		}
		for addr, d := range batch.Emails {
			if err := applyStatDelta(tx, "email_addresses", "address", addr, d); err != nil {
				return fmt.Errorf("apply email delta %s: %w", addr, err)
			}
		}
		for id, touch := range batch.ContactThreads {
			if err := prependThread(tx, "contacts", "id", id, touch); err != nil {
				return fmt.Errorf("prepend contact thread %s: %w", id, err)
			}
		}
		for addr, touch := range batch.EmailThreads {
			if err := prependThread(tx, "email_addresses", "address", addr, touch); err != nil {
				return fmt.Errorf("prepend email thread %s: %w", addr, err)
			}
		}
		for _, up := range batch.NameUpgrades {
			if up.ContactID != "" {
				if err := s.SetContactNameIfNull(tx, up.ContactID, up.Name); err != nil {
					return fmt.Errorf("upgrade contact name %s: %w", up.ContactID, err)
				}
			}
			if up.Address != "" {
				if err := s.SetEmailObservedNameIfNull(tx, up.Address, up.Name); err != nil {
					return fmt.Errorf("upgrade email name %s: %w", up.Address, err)
				}
			}
		}
		return nil
	})
}

// applyStatDelta increments the three email counters with current+delta arithmetic
// and folds first/last_seen with MIN/MAX(COALESCE(current, ts), ts), so
// concurrent updates on the same row from two account threads commute.
func applyStatDelta(tx *sql.Tx, table, keyCol, keyVal string, d StatDelta) error {
	ts := d.MessageDate.UTC().Format(time.RFC3339)
	query := fmt.Sprintf(`
		UPDATE %s SET
			emails_to = emails_to + ?,
			emails_from = emails_from + ?,
			emails_included = emails_included + ?,
			first_seen = CASE
				WHEN first_seen IS NULL THEN ?
				WHEN ? < first_seen THEN ?
				ELSE first_seen
			END,
			last_seen = CASE
				WHEN last_seen IS NULL THEN ?
				WHEN ? > last_seen THEN ?
				ELSE last_seen
			END,
			updated_at = datetime('now')
		WHERE %s = ?
	`, table, keyCol)
	_, err := tx.Exec(query,
		d.To, d.From, d.Included,
		ts, ts, ts,
		ts, ts, ts,
		keyVal,
	)
	return err
}

// prependThread performs the bounded recent-threads read-modify-write:
// remove any existing entry with the same threadId, prepend the new
// entry, truncate to maxRecentThreads, write back. Carried inside the
// same transaction as the rest of the message's update batch, which
// serializes it against other writers touching the same row.
func prependThread(tx *sql.Tx, table, keyCol, keyVal string, touch ThreadTouch) error {
	var raw string
	query := fmt.Sprintf(`SELECT recent_threads FROM %s WHERE %s = ?`, table, keyCol)
	if err := tx.QueryRow(query, keyVal).Scan(&raw); err != nil {
		return err
	}

	var threads []ThreadRef
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &threads); err != nil {
			// Corrupt or empty existing value: start fresh rather than fail
			// the whole message's commit over a cosmetic field.
			threads = nil
		}
	}

	filtered := make([]ThreadRef, 0, len(threads)+1)
	for _, t := range threads {
		if t.ThreadID != touch.ThreadID {
			filtered = append(filtered, t)
		}
	}
	filtered = append([]ThreadRef{{
		ThreadID:  touch.ThreadID,
		Account:   touch.Account,
		Timestamp: touch.Timestamp.UTC(),
	}}, filtered...)

	if len(filtered) > maxRecentThreads {
		filtered = filtered[:maxRecentThreads]
	}

	encoded, err := json.Marshal(filtered)
	if err != nil {
		return err
	}

	update := fmt.Sprintf(`UPDATE %s SET recent_threads = ?, updated_at = datetime('now') WHERE %s = ?`, table, keyCol)
	_, err = tx.Exec(update, string(encoded), keyVal)
	return err
}

// DecodeThreads parses the JSON recent_threads column into the in-memory
// ordered collection.
func DecodeThreads(raw string) ([]ThreadRef, error) {
	if raw == "" {
		return nil, nil
	}
	var threads []ThreadRef
	if err := json.Unmarshal([]byte(raw), &threads); err != nil {
		return nil, err
	}
	return threads, nil
}
