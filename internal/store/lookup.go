package store

import (
	"database/sql"
	"fmt"
)

// DomainLookup is the result of a bulk domain existence check.
type DomainLookup struct {
	CompanyID string
}

// EmailLookup is the result of a bulk address existence check.
type EmailLookup struct {
	ContactID   string
	ContactName sql.NullString
	CompanyID   string
}

// FetchDomains returns existing Domains among the given set, keyed by
// domain.
func (s *Store) FetchDomains(domains []string) (map[string]DomainLookup, error) {
	result := make(map[string]DomainLookup)
	if len(domains) == 0 {
		return result, nil
	}

	err := queryInChunks(s.db, domains, nil,
		`SELECT domain, company_id FROM domains WHERE domain IN (%s)`,
		func(rows *sql.Rows) error {
			var domain, companyID string
			if err := rows.Scan(&domain, &companyID); err != nil {
				return err
			}
			result[domain] = DomainLookup{CompanyID: companyID}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("fetch domains: %w", err)
	}
	return result, nil
}

// FetchEmails returns existing EmailAddresses among the given set, joined
// with their Contact's name and company_id in a single query.
func (s *Store) FetchEmails(addresses []string) (map[string]EmailLookup, error) {
	result := make(map[string]EmailLookup)
	if len(addresses) == 0 {
		return result, nil
	}

	err := queryInChunks(s.db, addresses, nil, `
		SELECT e.address, e.contact_id, c.name, c.company_id
		FROM email_addresses e
		JOIN contacts c ON c.id = e.contact_id
		WHERE e.address IN (%s)
	`, func(rows *sql.Rows) error {
		var addr, contactID, companyID string
		var name sql.NullString
		if err := rows.Scan(&addr, &contactID, &name, &companyID); err != nil {
			return err
		}
		result[addr] = EmailLookup{ContactID: contactID, ContactName: name, CompanyID: companyID}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch emails: %w", err)
	}
	return result, nil
}

// HasProcessed reports whether messageID has already been recorded for
// account.
func (s *Store) HasProcessed(account, messageID string) (bool, error) {
	var exists int
	err := s.db.QueryRow(
		`SELECT 1 FROM processed_messages WHERE message_id = ? AND account = ?`,
		messageID, account,
	).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has processed: %w", err)
	}
	return true, nil
}
