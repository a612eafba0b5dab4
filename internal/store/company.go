package store

import (
	"database/sql"
	"fmt"

	"github.com/relgraph/relgraph/internal/blacklist"
)

// DeleteCompany removes a Company and, via ON DELETE CASCADE, every Domain,
// Contact, and EmailAddress it owns. Its domains are added to the blacklist
// first so a future message from the same domain doesn't recreate the
// company the operator just removed.
func (s *Store) DeleteCompany(companyID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(`SELECT domain FROM domains WHERE company_id = ?`, companyID)
		if err != nil {
			return fmt.Errorf("list domains for company %s: %w", companyID, err)
		}
		var domains []string
		for rows.Next() {
			var d string
			if err := rows.Scan(&d); err != nil {
				rows.Close()
				return err
			}
			domains = append(domains, d)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, d := range domains {
			if _, err := tx.Exec(`
				INSERT INTO blacklist_domains (domain, category, source, created_at)
				VALUES (?, ?, 'company_delete', datetime('now'))
				ON CONFLICT(domain) DO NOTHING
			`, d, string(blacklist.CategoryManual)); err != nil {
				return fmt.Errorf("blacklist domain %s: %w", d, err)
			}
		}

		if _, err := tx.Exec(`DELETE FROM companies WHERE id = ?`, companyID); err != nil {
			return fmt.Errorf("delete company %s: %w", companyID, err)
		}
		return nil
	})
}

// GetCompany fetches a single Company by id.
func (s *Store) GetCompany(companyID string) (*Company, error) {
	row := s.db.QueryRow(`
		SELECT id, display_name, emails_to, emails_from, emails_included,
		       meetings_completed, meetings_upcoming, first_seen, last_seen,
		       created_at, updated_at
		FROM companies WHERE id = ?
	`, companyID)

	c := &Company{}
	err := row.Scan(&c.ID, &c.DisplayName, &c.EmailsTo, &c.EmailsFrom, &c.EmailsIncluded,
		&c.MeetingsCompleted, &c.MeetingsUpcoming, &c.FirstSeen, &c.LastSeen,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get company %s: %w", companyID, err)
	}
	return c, nil
}

// ListCompanies returns every Company ordered by creation time, for the
// query surface's listing endpoint.
func (s *Store) ListCompanies() ([]Company, error) {
	rows, err := s.db.Query(`
		SELECT id, display_name, emails_to, emails_from, emails_included,
		       meetings_completed, meetings_upcoming, first_seen, last_seen,
		       created_at, updated_at
		FROM companies ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	var out []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.DisplayName, &c.EmailsTo, &c.EmailsFrom, &c.EmailsIncluded,
			&c.MeetingsCompleted, &c.MeetingsUpcoming, &c.FirstSeen, &c.LastSeen,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
