package store

import (
	"database/sql"
	"fmt"
)

// GetDomain fetches a single Domain by its FQDN.
func (s *Store) GetDomain(domain string) (*Domain, error) {
	row := s.db.QueryRow(`
		SELECT domain, company_id, is_primary, emails_to, emails_from, emails_included,
		       meetings_completed, meetings_upcoming, first_seen, last_seen,
		       created_at, updated_at
		FROM domains WHERE domain = ?
	`, domain)

	d := &Domain{}
	err := row.Scan(&d.Domain, &d.CompanyID, &d.IsPrimary, &d.EmailsTo, &d.EmailsFrom, &d.EmailsIncluded,
		&d.MeetingsCompleted, &d.MeetingsUpcoming, &d.FirstSeen, &d.LastSeen,
		&d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get domain %s: %w", domain, err)
	}
	return d, nil
}

// ListDomains returns every Domain, optionally narrowed to one company.
func (s *Store) ListDomains(companyID string) ([]Domain, error) {
	query := `
		SELECT domain, company_id, is_primary, emails_to, emails_from, emails_included,
		       meetings_completed, meetings_upcoming, first_seen, last_seen,
		       created_at, updated_at
		FROM domains
	`
	args := []interface{}{}
	if companyID != "" {
		query += " WHERE company_id = ?"
		args = append(args, companyID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []Domain
	for rows.Next() {
		var d Domain
		if err := rows.Scan(&d.Domain, &d.CompanyID, &d.IsPrimary, &d.EmailsTo, &d.EmailsFrom, &d.EmailsIncluded,
			&d.MeetingsCompleted, &d.MeetingsUpcoming, &d.FirstSeen, &d.LastSeen,
			&d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetContact fetches a single Contact by id, decoding its recent-threads list.
func (s *Store) GetContact(contactID string) (*Contact, error) {
	row := s.db.QueryRow(`
		SELECT id, company_id, name, recent_threads, emails_to, emails_from, emails_included,
		       meetings_completed, meetings_upcoming, first_seen, last_seen,
		       created_at, updated_at
		FROM contacts WHERE id = ?
	`, contactID)

	var raw string
	c := &Contact{}
	err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &raw, &c.EmailsTo, &c.EmailsFrom, &c.EmailsIncluded,
		&c.MeetingsCompleted, &c.MeetingsUpcoming, &c.FirstSeen, &c.LastSeen,
		&c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get contact %s: %w", contactID, err)
	}
	c.RecentThreads, err = DecodeThreads(raw)
	if err != nil {
		return nil, fmt.Errorf("decode recent threads for contact %s: %w", contactID, err)
	}
	return c, nil
}

// ListContacts returns every Contact, optionally narrowed to one company.
func (s *Store) ListContacts(companyID string) ([]Contact, error) {
	query := `
		SELECT id, company_id, name, recent_threads, emails_to, emails_from, emails_included,
		       meetings_completed, meetings_upcoming, first_seen, last_seen,
		       created_at, updated_at
		FROM contacts
	`
	args := []interface{}{}
	if companyID != "" {
		query += " WHERE company_id = ?"
		args = append(args, companyID)
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var raw string
		var c Contact
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Name, &raw, &c.EmailsTo, &c.EmailsFrom, &c.EmailsIncluded,
			&c.MeetingsCompleted, &c.MeetingsUpcoming, &c.FirstSeen, &c.LastSeen,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.RecentThreads, err = DecodeThreads(raw)
		if err != nil {
			return nil, fmt.Errorf("decode recent threads for contact %s: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListEmailAddresses returns every EmailAddress bound to a contact.
func (s *Store) ListEmailAddresses(contactID string) ([]EmailAddress, error) {
	rows, err := s.db.Query(`
		SELECT address, contact_id, domain, observed_name, active, recent_threads,
		       emails_to, emails_from, emails_included, meetings_completed, meetings_upcoming,
		       first_seen, last_seen, created_at, updated_at
		FROM email_addresses WHERE contact_id = ? ORDER BY created_at
	`, contactID)
	if err != nil {
		return nil, fmt.Errorf("list email addresses: %w", err)
	}
	defer rows.Close()

	var out []EmailAddress
	for rows.Next() {
		var raw string
		var e EmailAddress
		if err := rows.Scan(&e.Address, &e.ContactID, &e.Domain, &e.ObservedName, &e.Active, &raw,
			&e.EmailsTo, &e.EmailsFrom, &e.EmailsIncluded, &e.MeetingsCompleted, &e.MeetingsUpcoming,
			&e.FirstSeen, &e.LastSeen, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan email address: %w", err)
		}
		e.RecentThreads, err = DecodeThreads(raw)
		if err != nil {
			return nil, fmt.Errorf("decode recent threads for %s: %w", e.Address, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
