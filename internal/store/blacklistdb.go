package store

import (
	"database/sql"
	"fmt"

	"github.com/relgraph/relgraph/internal/blacklist"
)

// blacklist.Store is implemented against the blacklist_domains table so the
// blacklist engine stays storage-agnostic.

// ListBlacklistDomains returns every persisted blacklist entry.
func (s *Store) ListBlacklistDomains() ([]blacklist.Entry, error) {
	rows, err := s.db.Query(`SELECT domain, category, source FROM blacklist_domains ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist domains: %w", err)
	}
	defer rows.Close()

	var entries []blacklist.Entry
	for rows.Next() {
		var e blacklist.Entry
		var source sql.NullString
		if err := rows.Scan(&e.Domain, &e.Category, &source); err != nil {
			return nil, fmt.Errorf("scan blacklist domain: %w", err)
		}
		e.Source = source.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DomainBlacklisted reports whether domain has a persisted entry.
func (s *Store) DomainBlacklisted(domain string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM blacklist_domains WHERE domain = ?`, domain).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("domain blacklisted %s: %w", domain, err)
	}
	return true, nil
}

// AddBlacklistDomain inserts or replaces a persisted blacklist entry.
func (s *Store) AddBlacklistDomain(domain string, category blacklist.Category, source string) error {
	_, err := s.db.Exec(`
		INSERT INTO blacklist_domains (domain, category, source, created_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(domain) DO UPDATE SET category = excluded.category, source = excluded.source
	`, domain, string(category), source)
	if err != nil {
		return fmt.Errorf("add blacklist domain %s: %w", domain, err)
	}
	return nil
}

// RemoveBlacklistDomain deletes a persisted blacklist entry, if any.
func (s *Store) RemoveBlacklistDomain(domain string) error {
	_, err := s.db.Exec(`DELETE FROM blacklist_domains WHERE domain = ?`, domain)
	if err != nil {
		return fmt.Errorf("remove blacklist domain %s: %w", domain, err)
	}
	return nil
}
