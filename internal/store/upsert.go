package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// NewCompanyID and NewContactID generate opaque entity ids. Exposed as
// functions (rather than inlined uuid.NewString calls) so the message
// processor can pre-assign ids before staging inserts.
func NewCompanyID() string { return uuid.NewString() }
func NewContactID() string { return uuid.NewString() }

// CompanyDomainInsert stages one new Company + primary Domain.
type CompanyDomainInsert struct {
	CompanyID string
	Domain    string
}

// ContactEmailInsert stages one new Contact + EmailAddress.
type ContactEmailInsert struct {
	ContactID string
	CompanyID string
	Address   string
	Domain    string
	Name      string // may be empty
}

// CommitInsertions commits every staged Company+Domain and Contact+Email
// insert for one message as a single batch. Each pair is a no-op if its
// Domain/EmailAddress already exists: insert-or-ignore keyed on the
// primary key, then a follow-up read recovers the actual winner's id in
// case a concurrent account's ingest won the race on the same
// Company/Domain — no distributed lock required. The losing side of a
// race deletes the row it tentatively created within the same
// transaction, so a lost race leaves no orphaned Company or Contact row.
//
// Returns domain -> company_id and address -> contact_id for every row
// passed in, resolved to whichever insert actually won.
func (s *Store) CommitInsertions(companyDomains []CompanyDomainInsert, contactEmails []ContactEmailInsert) (map[string]string, map[string]string, error) {
	domainWinners := make(map[string]string, len(companyDomains))
	emailWinners := make(map[string]string, len(contactEmails))
	if len(companyDomains) == 0 && len(contactEmails) == 0 {
		return domainWinners, emailWinners, nil
	}

	err := s.withTx(func(tx *sql.Tx) error {
		// companyRemap maps a tentative company id whose domain insert lost
		// the race to the actual winning company id, so contactEmails staged
		// against the same (now-deleted) tentative company attach correctly.
		companyRemap := make(map[string]string)

		for _, ins := range companyDomains {
			if _, err := tx.Exec(`
				INSERT INTO companies (id, display_name, created_at, updated_at)
				VALUES (?, ?, datetime('now'), datetime('now'))
			`, ins.CompanyID, ins.Domain); err != nil {
				return fmt.Errorf("insert company %s: %w", ins.Domain, err)
			}
			res, err := tx.Exec(`
				INSERT OR IGNORE INTO domains (domain, company_id, is_primary, created_at, updated_at)
				VALUES (?, ?, 1, datetime('now'), datetime('now'))
			`, ins.Domain, ins.CompanyID)
			if err != nil {
				return fmt.Errorf("insert domain %s: %w", ins.Domain, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert domain %s: %w", ins.Domain, err)
			}
			if affected == 0 {
				var winnerID string
				if err := tx.QueryRow(`SELECT company_id FROM domains WHERE domain = ?`, ins.Domain).Scan(&winnerID); err != nil {
					return fmt.Errorf("recover domain winner %s: %w", ins.Domain, err)
				}
				if _, err := tx.Exec(`DELETE FROM companies WHERE id = ?`, ins.CompanyID); err != nil {
					return fmt.Errorf("delete orphaned company for %s: %w", ins.Domain, err)
				}
				companyRemap[ins.CompanyID] = winnerID
			}
		}

		for _, ins := range contactEmails {
			companyID := ins.CompanyID
			if winnerID, ok := companyRemap[companyID]; ok {
				companyID = winnerID
			}

			var name sql.NullString
			if ins.Name != "" {
				name = sql.NullString{String: ins.Name, Valid: true}
			}
			if _, err := tx.Exec(`
				INSERT INTO contacts (id, company_id, name, recent_threads, created_at, updated_at)
				VALUES (?, ?, ?, '[]', datetime('now'), datetime('now'))
			`, ins.ContactID, companyID, name); err != nil {
				return fmt.Errorf("insert contact %s: %w", ins.Address, err)
			}
			res, err := tx.Exec(`
				INSERT OR IGNORE INTO email_addresses (address, contact_id, domain, observed_name, active, recent_threads, created_at, updated_at)
				VALUES (?, ?, ?, ?, 1, '[]', datetime('now'), datetime('now'))
			`, ins.Address, ins.ContactID, ins.Domain, name)
			if err != nil {
				return fmt.Errorf("insert email %s: %w", ins.Address, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert email %s: %w", ins.Address, err)
			}
			if affected == 0 {
				if _, err := tx.Exec(`DELETE FROM contacts WHERE id = ?`, ins.ContactID); err != nil {
					return fmt.Errorf("delete orphaned contact for %s: %w", ins.Address, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if len(companyDomains) > 0 {
		domains := make([]string, len(companyDomains))
		for i, ins := range companyDomains {
			domains[i] = ins.Domain
		}
		actual, err := s.FetchDomains(domains)
		if err != nil {
			return nil, nil, fmt.Errorf("recover company ids: %w", err)
		}
		for _, d := range domains {
			if lookup, ok := actual[d]; ok {
				domainWinners[d] = lookup.CompanyID
			}
		}
	}

	if len(contactEmails) > 0 {
		addresses := make([]string, len(contactEmails))
		for i, ins := range contactEmails {
			addresses[i] = ins.Address
		}
		actual, err := s.FetchEmails(addresses)
		if err != nil {
			return nil, nil, fmt.Errorf("recover contact ids: %w", err)
		}
		for _, a := range addresses {
			if lookup, ok := actual[a]; ok {
				emailWinners[a] = lookup.ContactID
			}
		}
	}

	return domainWinners, emailWinners, nil
}

// SetContactNameIfNull performs the write-once name upgrade: a contact's
// name is set the first time it's observed and never overwritten.
func (s *Store) SetContactNameIfNull(tx *sql.Tx, contactID, name string) error {
	_, err := tx.Exec(`
		UPDATE contacts SET name = ?, updated_at = datetime('now')
		WHERE id = ? AND name IS NULL
	`, name, contactID)
	return err
}

// SetEmailObservedNameIfNull performs the same write-once upgrade for an
// EmailAddress's observed_name.
func (s *Store) SetEmailObservedNameIfNull(tx *sql.Tx, address, name string) error {
	_, err := tx.Exec(`
		UPDATE email_addresses SET observed_name = ?, updated_at = datetime('now')
		WHERE address = ? AND observed_name IS NULL
	`, name, address)
	return err
}
