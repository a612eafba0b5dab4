package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/provider"
	"github.com/relgraph/relgraph/internal/testutil/dbtest"
)

func newProcessor(t *testing.T) *Processor {
	s := dbtest.Open(t)
	engine := blacklist.New(s)
	return New(s, engine)
}

func TestProcessMessage_NewCompanyContactFromScratch(t *testing.T) {
	p := newProcessor(t)

	msg := &provider.Message{
		ID:           "msg-1",
		ThreadID:     "thread-1",
		InternalDate: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		FromHeader:   "Alice Smith <alice@acme.com>",
		ToHeader:     "me@mine.com",
	}

	result, err := p.ProcessMessage("me@mine.com", msg)
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, 1, result.ParticipantCount)
	require.Equal(t, 1, result.NewCompanies)
	require.Equal(t, 1, result.NewContacts)

	stats, err := p.store.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CompanyCount)
	require.Equal(t, int64(1), stats.ContactCount)
}

func TestProcessMessage_IdempotentOnReplay(t *testing.T) {
	p := newProcessor(t)

	msg := &provider.Message{
		ID:           "msg-1",
		ThreadID:     "thread-1",
		InternalDate: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		FromHeader:   "alice@acme.com",
	}

	_, err := p.ProcessMessage("me@mine.com", msg)
	require.NoError(t, err)

	result, err := p.ProcessMessage("me@mine.com", msg)
	require.NoError(t, err)
	require.True(t, result.Skipped)

	stats, err := p.store.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CompanyCount) // not double-counted
}

func TestProcessMessage_SelfAddressFiltered(t *testing.T) {
	p := newProcessor(t)

	msg := &provider.Message{
		ID:           "msg-1",
		InternalDate: time.Now().UTC(),
		FromHeader:   "me@mine.com",
		ToHeader:     "me@mine.com",
	}

	result, err := p.ProcessMessage("me@mine.com", msg)
	require.NoError(t, err)
	require.True(t, result.Skipped)

	stats, err := p.store.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(0), stats.CompanyCount)
}

func TestProcessMessage_BlacklistedDomainFiltered(t *testing.T) {
	p := newProcessor(t)
	require.NoError(t, p.blacklist.Add("spam-sender.io", blacklist.CategorySpam, "test"))

	msg := &provider.Message{
		ID:           "msg-1",
		InternalDate: time.Now().UTC(),
		FromHeader:   "offers@spam-sender.io",
	}

	result, err := p.ProcessMessage("me@mine.com", msg)
	require.NoError(t, err)
	require.True(t, result.Skipped)
}

func TestProcessMessage_SameDomainSecondContactJoinsExistingCompany(t *testing.T) {
	p := newProcessor(t)

	msg1 := &provider.Message{ID: "msg-1", InternalDate: time.Now().UTC(), FromHeader: "alice@acme.com"}
	_, err := p.ProcessMessage("me@mine.com", msg1)
	require.NoError(t, err)

	msg2 := &provider.Message{ID: "msg-2", InternalDate: time.Now().UTC(), FromHeader: "bob@acme.com"}
	result, err := p.ProcessMessage("me@mine.com", msg2)
	require.NoError(t, err)
	require.Equal(t, 0, result.NewCompanies) // acme.com already has a company
	require.Equal(t, 1, result.NewContacts)

	stats, err := p.store.GetStats()
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CompanyCount)
	require.Equal(t, int64(2), stats.ContactCount)
}

func TestProcessMessage_ToCounterOnlyWhenSelfSent(t *testing.T) {
	p := newProcessor(t)

	sent := &provider.Message{
		ID:           "msg-1",
		InternalDate: time.Now().UTC(),
		FromHeader:   "me@mine.com",
		ToHeader:     "alice@acme.com",
	}
	_, err := p.ProcessMessage("me@mine.com", sent)
	require.NoError(t, err)

	var emailsTo, emailsFrom int64
	require.NoError(t, p.store.DB().QueryRow(
		`SELECT emails_to, emails_from FROM email_addresses WHERE address = ?`, "alice@acme.com",
	).Scan(&emailsTo, &emailsFrom))
	require.Equal(t, int64(1), emailsTo)
	require.Equal(t, int64(0), emailsFrom)

	received := &provider.Message{
		ID:           "msg-2",
		InternalDate: time.Now().UTC(),
		FromHeader:   "alice@acme.com",
		ToHeader:     "me@mine.com, carol@other.com",
	}
	_, err = p.ProcessMessage("me@mine.com", received)
	require.NoError(t, err)

	require.NoError(t, p.store.DB().QueryRow(
		`SELECT emails_to, emails_from FROM email_addresses WHERE address = ?`, "alice@acme.com",
	).Scan(&emailsTo, &emailsFrom))
	require.Equal(t, int64(1), emailsTo)
	require.Equal(t, int64(1), emailsFrom)

	var carolTo int64
	require.NoError(t, p.store.DB().QueryRow(
		`SELECT emails_to FROM email_addresses WHERE address = ?`, "carol@other.com",
	).Scan(&carolTo))
	require.Equal(t, int64(0), carolTo, "carol was a fellow recipient, not someone self sent to")
}

func TestProcessMessage_DateHeaderPreferredOverInternalDate(t *testing.T) {
	p := newProcessor(t)

	msg := &provider.Message{
		ID:           "msg-1",
		ThreadID:     "thread-1",
		InternalDate: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		DateHeader:   "Mon, 1 Dec 2025 08:00:00 +0000",
		FromHeader:   "alice@acme.com",
	}
	_, err := p.ProcessMessage("me@mine.com", msg)
	require.NoError(t, err)

	d, err := p.store.GetDomain("acme.com")
	require.NoError(t, err)
	require.True(t, d.FirstSeen.Valid)
	require.True(t, d.FirstSeen.Time.Equal(time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)),
		"a parseable Date header overrides the provider's internal timestamp")
}

func TestProcessMessage_UnparseableDateHeaderFallsBackToInternalDate(t *testing.T) {
	p := newProcessor(t)

	want := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	msg := &provider.Message{
		ID:           "msg-1",
		InternalDate: want,
		DateHeader:   "not a date",
		FromHeader:   "alice@acme.com",
	}
	_, err := p.ProcessMessage("me@mine.com", msg)
	require.NoError(t, err)

	d, err := p.store.GetDomain("acme.com")
	require.NoError(t, err)
	require.True(t, d.FirstSeen.Time.Equal(want))
}

func TestProcessMessage_NameUpgradeWriteOnce(t *testing.T) {
	p := newProcessor(t)

	msg1 := &provider.Message{ID: "msg-1", InternalDate: time.Now().UTC(), FromHeader: "alice@acme.com"}
	_, err := p.ProcessMessage("me@mine.com", msg1)
	require.NoError(t, err)

	msg2 := &provider.Message{ID: "msg-2", InternalDate: time.Now().UTC(), FromHeader: "Alice Smith <alice@acme.com>"}
	_, err = p.ProcessMessage("me@mine.com", msg2)
	require.NoError(t, err)

	msg3 := &provider.Message{ID: "msg-3", InternalDate: time.Now().UTC(), FromHeader: "Someone Else <alice@acme.com>"}
	_, err = p.ProcessMessage("me@mine.com", msg3)
	require.NoError(t, err)

	var name string
	require.NoError(t, p.store.DB().QueryRow(
		`SELECT observed_name FROM email_addresses WHERE address = ?`, "alice@acme.com",
	).Scan(&name))
	require.Equal(t, "Alice Smith", name)
}
