package store_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/store"
	"github.com/relgraph/relgraph/internal/testutil/dbtest"
)

func TestInitSchema_Idempotent(t *testing.T) {
	s := dbtest.Open(t)
	require.NoError(t, s.InitSchema())
}

func TestCommitInsertions_NewCompanyAndContact(t *testing.T) {
	s := dbtest.Open(t)

	companyID := store.NewCompanyID()
	contactID := store.NewContactID()

	domainWinners, emailWinners, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: companyID, Domain: "acme.com"}},
		[]store.ContactEmailInsert{{ContactID: contactID, CompanyID: companyID, Address: "alice@acme.com", Domain: "acme.com", Name: "Alice"}},
	)
	require.NoError(t, err)
	require.Equal(t, companyID, domainWinners["acme.com"])
	require.Equal(t, contactID, emailWinners["alice@acme.com"])

	stats, err := s.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CompanyCount)
	require.Equal(t, int64(1), stats.DomainCount)
	require.Equal(t, int64(1), stats.ContactCount)
	require.Equal(t, int64(1), stats.EmailCount)
}

func TestCommitInsertions_RaceRecoversWinner(t *testing.T) {
	s := dbtest.Open(t)

	firstCompany := store.NewCompanyID()
	_, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: firstCompany, Domain: "acme.com"}}, nil,
	)
	require.NoError(t, err)

	// A second "account thread" races to insert the same domain under a
	// different pre-assigned company id; INSERT OR IGNORE loses on the
	// domain row, and the loser's tentative company row is deleted within
	// the same transaction rather than left orphaned.
	secondCompany := store.NewCompanyID()
	domainWinners, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: secondCompany, Domain: "acme.com"}}, nil,
	)
	require.NoError(t, err)
	require.Equal(t, firstCompany, domainWinners["acme.com"])

	stats, err := s.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CompanyCount) // the losing company row was deleted, not left orphaned
	require.Equal(t, int64(1), stats.DomainCount)  // only one domain row exists

	companies, err := s.ListCompanies()
	require.NoError(t, err)
	require.Len(t, companies, 1)
	require.Equal(t, firstCompany, companies[0].ID)
}

func TestCommitInsertions_ContactEmailRaceRecoversWinner(t *testing.T) {
	s := dbtest.Open(t)

	company := store.NewCompanyID()
	_, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: company, Domain: "acme.com"}}, nil,
	)
	require.NoError(t, err)

	firstContact := store.NewContactID()
	_, emailWinners, err := s.CommitInsertions(nil,
		[]store.ContactEmailInsert{{ContactID: firstContact, CompanyID: company, Address: "alice@acme.com", Domain: "acme.com", Name: "Alice"}},
	)
	require.NoError(t, err)
	require.Equal(t, firstContact, emailWinners["alice@acme.com"])

	// A second "account thread" races to insert the same address under a
	// different pre-assigned contact id; the loser's tentative contact row
	// must be deleted within the same transaction, not left orphaned.
	secondContact := store.NewContactID()
	_, emailWinners, err = s.CommitInsertions(nil,
		[]store.ContactEmailInsert{{ContactID: secondContact, CompanyID: company, Address: "alice@acme.com", Domain: "acme.com", Name: "Alice"}},
	)
	require.NoError(t, err)
	require.Equal(t, firstContact, emailWinners["alice@acme.com"])

	stats, err := s.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.ContactCount) // the losing contact row was deleted, not left orphaned
	require.Equal(t, int64(1), stats.EmailCount)

	contacts, err := s.ListContacts(company)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.Equal(t, firstContact, contacts[0].ID)
}

func TestApplyDeltas_CountersAndSeenBounds(t *testing.T) {
	s := dbtest.Open(t)

	companyID := store.NewCompanyID()
	_, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: companyID, Domain: "acme.com"}}, nil,
	)
	require.NoError(t, err)

	day1 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC) // earlier than day1, out of order on purpose

	batch1 := store.NewDeltaBatch()
	batch1.Companies[companyID] = store.StatDelta{To: 1, MessageDate: day1}
	require.NoError(t, s.ApplyDeltas(batch1))

	batch2 := store.NewDeltaBatch()
	batch2.Companies[companyID] = store.StatDelta{From: 1, MessageDate: day2}
	require.NoError(t, s.ApplyDeltas(batch2))

	c, err := s.GetCompany(companyID)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.EmailsTo)
	require.Equal(t, int64(1), c.EmailsFrom)
	require.True(t, c.FirstSeen.Valid)
	require.True(t, c.LastSeen.Valid)
	require.True(t, c.FirstSeen.Time.Equal(day2), "first_seen should adopt the earlier date even though it arrived second")
	require.True(t, c.LastSeen.Time.Equal(day1))
}

func TestApplyDeltas_RecentThreadsMoveToFrontAndDedup(t *testing.T) {
	s := dbtest.Open(t)

	companyID := store.NewCompanyID()
	contactID := store.NewContactID()
	_, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: companyID, Domain: "acme.com"}},
		[]store.ContactEmailInsert{{ContactID: contactID, CompanyID: companyID, Address: "alice@acme.com", Domain: "acme.com"}},
	)
	require.NoError(t, err)

	touch := func(threadID string, ts time.Time) *store.DeltaBatch {
		b := store.NewDeltaBatch()
		b.ContactThreads[contactID] = store.ThreadTouch{ThreadID: threadID, Account: "me@acme.com", Timestamp: ts}
		return b
	}

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.ApplyDeltas(touch("t1", base)))
	require.NoError(t, s.ApplyDeltas(touch("t2", base.Add(time.Hour))))
	require.NoError(t, s.ApplyDeltas(touch("t1", base.Add(2*time.Hour)))) // re-touch t1: should move to front, not duplicate

	var raw string
	require.NoError(t, s.DB().QueryRow(`SELECT recent_threads FROM contacts WHERE id = ?`, contactID).Scan(&raw))
	threads, err := store.DecodeThreads(raw)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	require.Equal(t, "t1", threads[0].ThreadID)
	require.Equal(t, "t2", threads[1].ThreadID)
}

func TestApplyDeltas_RecentThreadsTruncatedTo100(t *testing.T) {
	s := dbtest.Open(t)

	companyID := store.NewCompanyID()
	contactID := store.NewContactID()
	_, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: companyID, Domain: "acme.com"}},
		[]store.ContactEmailInsert{{ContactID: contactID, CompanyID: companyID, Address: "alice@acme.com", Domain: "acme.com"}},
	)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 105; i++ {
		b := store.NewDeltaBatch()
		b.ContactThreads[contactID] = store.ThreadTouch{
			ThreadID:  string(rune('a' + i%26)) + string(rune(i)),
			Account:   "me@acme.com",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.ApplyDeltas(b))
	}

	var raw string
	require.NoError(t, s.DB().QueryRow(`SELECT recent_threads FROM contacts WHERE id = ?`, contactID).Scan(&raw))
	threads, err := store.DecodeThreads(raw)
	require.NoError(t, err)
	require.Len(t, threads, 100)
}

func TestNameUpgrade_WriteOnce(t *testing.T) {
	s := dbtest.Open(t)

	companyID := store.NewCompanyID()
	contactID := store.NewContactID()
	_, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: companyID, Domain: "acme.com"}},
		[]store.ContactEmailInsert{{ContactID: contactID, CompanyID: companyID, Address: "alice@acme.com", Domain: "acme.com"}},
	)
	require.NoError(t, err)

	batch := store.NewDeltaBatch()
	batch.NameUpgrades = []store.NameUpgrade{{ContactID: contactID, Name: "Alice"}}
	require.NoError(t, s.ApplyDeltas(batch))

	batch2 := store.NewDeltaBatch()
	batch2.NameUpgrades = []store.NameUpgrade{{ContactID: contactID, Name: "Someone Else"}}
	require.NoError(t, s.ApplyDeltas(batch2))

	var name string
	require.NoError(t, s.DB().QueryRow(`SELECT name FROM contacts WHERE id = ?`, contactID).Scan(&name))
	require.Equal(t, "Alice", name)
}

func TestSyncState_RoundTrip(t *testing.T) {
	s := dbtest.Open(t)

	st, err := s.ReadSyncState("me@acme.com")
	require.NoError(t, err)
	require.Equal(t, "me@acme.com", st.Account)
	require.False(t, st.ProviderCursor.Valid)

	st.BatchDay = sql.NullString{String: "2026-01-05", Valid: true}
	st.PageNumber = 3
	require.NoError(t, s.WriteSyncState(st))

	reread, err := s.ReadSyncState("me@acme.com")
	require.NoError(t, err)
	require.Equal(t, int64(3), reread.PageNumber)
	require.True(t, reread.BatchDay.Valid)
	require.Equal(t, "2026-01-05", reread.BatchDay.String)
}

func TestHasProcessed_MarkProcessed(t *testing.T) {
	s := dbtest.Open(t)

	done, err := s.HasProcessed("me@acme.com", "msg-1")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, s.MarkProcessed("me@acme.com", "msg-1"))
	require.NoError(t, s.MarkProcessed("me@acme.com", "msg-1")) // idempotent re-mark

	done, err = s.HasProcessed("me@acme.com", "msg-1")
	require.NoError(t, err)
	require.True(t, done)
}

func TestDeleteCompany_CascadesAndBlacklistsDomains(t *testing.T) {
	s := dbtest.Open(t)

	companyID := store.NewCompanyID()
	contactID := store.NewContactID()
	_, _, err := s.CommitInsertions(
		[]store.CompanyDomainInsert{{CompanyID: companyID, Domain: "acme.com"}},
		[]store.ContactEmailInsert{{ContactID: contactID, CompanyID: companyID, Address: "alice@acme.com", Domain: "acme.com"}},
	)
	require.NoError(t, err)

	require.NoError(t, s.DeleteCompany(companyID))

	c, err := s.GetCompany(companyID)
	require.NoError(t, err)
	require.Nil(t, c)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM email_addresses WHERE contact_id = ?`, contactID).Scan(&count))
	require.Equal(t, 0, count)

	blacklisted, err := s.DomainBlacklisted("acme.com")
	require.NoError(t, err)
	require.True(t, blacklisted)
}
