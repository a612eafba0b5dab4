package store

import (
	"database/sql"
	"time"

	"github.com/relgraph/relgraph/internal/blacklist"
)

// Stats holds the five interaction counters and first/last-seen bounds
// shared by every stat-bearing entity.
type Stats struct {
	EmailsTo          int64
	EmailsFrom        int64
	EmailsIncluded    int64
	MeetingsCompleted int64
	MeetingsUpcoming  int64
	FirstSeen         sql.NullTime
	LastSeen          sql.NullTime
}

// Company is the top-level aggregate, keyed by an opaque id.
type Company struct {
	ID          string
	DisplayName sql.NullString
	Stats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain is a lowercased FQDN bound to exactly one Company.
type Domain struct {
	Domain    string
	CompanyID string
	IsPrimary bool
	Stats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ThreadRef is one entry of a bounded recent-threads list.
type ThreadRef struct {
	ThreadID  string    `json:"threadId"`
	Account   string    `json:"account"`
	Timestamp time.Time `json:"timestamp"`
}

// Contact is a tracked human, identified by the set of EmailAddresses that
// resolve to it. A new Contact is created per new EmailAddress; contacts
// are never merged across domains.
type Contact struct {
	ID            string
	CompanyID     string
	Name          sql.NullString
	RecentThreads []ThreadRef
	Stats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmailAddress is a lowercased address bound to one Contact and one Domain.
type EmailAddress struct {
	Address      string
	ContactID    string
	Domain       string
	ObservedName sql.NullString
	Active       bool
	RecentThreads []ThreadRef
	Stats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SyncState is the singleton per-account ingestion cursor.
type SyncState struct {
	Account           string
	ProviderCursor    sql.NullString
	BatchDay          sql.NullString // YYYY-MM-DD
	PageToken         sql.NullString
	PageNumber        int64
	FullRescanPending bool // true while a last-resort full_sync reconciliation is in progress
	LastSyncAt        sql.NullTime
	UpdatedAt         time.Time
}

// BlacklistEntry mirrors blacklist.Entry for the store's persistence layer.
type BlacklistEntry = blacklist.Entry
