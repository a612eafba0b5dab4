// Package ingest implements the message processor: turning one provider
// message into relationship-graph mutations.
package ingest

import (
	"fmt"
	"strings"

	"github.com/relgraph/relgraph/internal/address"
	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/provider"
	"github.com/relgraph/relgraph/internal/store"
)

// role identifies which header a parsed address came from, which
// determines the counter it contributes to.
type role int

const (
	roleTo role = iota
	roleFrom
	roleIncluded
)

// Participant is one surviving parsed address after self/blacklist
// filtering, annotated with the role it played in the message.
type Participant struct {
	address.Parsed
	Role role
}

// Result summarizes what one ProcessMessage call did, for logging and
// tests.
type Result struct {
	Skipped          bool // already processed, or no participants survived filtering
	ParticipantCount int
	NewCompanies     int
	NewContacts      int
}

// Processor wires the address parser, blacklist engine, and entity store
// into the per-message algorithm.
type Processor struct {
	store     *store.Store
	blacklist *blacklist.Engine
}

// New returns a Processor bound to a Store and Blacklist Engine.
func New(s *store.Store, bl *blacklist.Engine) *Processor {
	return &Processor{store: s, blacklist: bl}
}

// ProcessMessage runs the full 12-step algorithm for one message
// belonging to account (the mailbox owner's own address, used to
// recognize self-addressed headers and to decide sent-by-self vs
// received-by-self roles).
func (p *Processor) ProcessMessage(account string, msg *provider.Message) (*Result, error) {
	already, err := p.store.HasProcessed(account, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("check processed: %w", err)
	}
	if already {
		return &Result{Skipped: true}, nil
	}

	self := strings.ToLower(account)
	participants := p.collectParticipants(msg, self)

	if len(participants) == 0 {
		if err := p.store.MarkProcessed(account, msg.ID); err != nil {
			return nil, fmt.Errorf("mark processed: %w", err)
		}
		return &Result{Skipped: true}, nil
	}

	// A ProcessedMessage row must become visible before the mutation batch
	// for this message commits: a crash after this point leaves the
	// message looking handled but contributing no deltas, which is
	// preferred over ever double-counting it on retry.
	if err := p.store.MarkProcessed(account, msg.ID); err != nil {
		return nil, fmt.Errorf("mark processed: %w", err)
	}

	plan, err := p.plan(participants)
	if err != nil {
		return nil, fmt.Errorf("plan message %s: %w", msg.ID, err)
	}

	domainWinners, emailWinners, err := p.store.CommitInsertions(plan.companyDomains, plan.contactEmails)
	if err != nil {
		return nil, fmt.Errorf("commit insertions: %w", err)
	}

	batch, err := p.buildDeltaBatch(account, msg, participants, plan, domainWinners, emailWinners)
	if err != nil {
		return nil, fmt.Errorf("build delta batch: %w", err)
	}

	if err := p.store.ApplyDeltas(batch); err != nil {
		return nil, fmt.Errorf("apply deltas: %w", err)
	}

	return &Result{
		ParticipantCount: len(participants),
		NewCompanies:     len(plan.companyDomains),
		NewContacts:      len(plan.contactEmails),
	}, nil
}

// collectParticipants parses From/To/Cc, tags each address by role, and
// drops self addresses and blacklisted addresses.
func (p *Processor) collectParticipants(msg *provider.Message, self string) []Participant {
	var out []Participant

	for _, parsed := range address.Parse(msg.FromHeader) {
		if parsed.Address == self {
			continue
		}
		if p.blacklist.IsBlacklisted(parsed.Address) {
			continue
		}
		out = append(out, Participant{Parsed: parsed, Role: roleFrom})
	}
	for _, parsed := range address.Parse(msg.ToHeader) {
		if parsed.Address == self {
			continue
		}
		if p.blacklist.IsBlacklisted(parsed.Address) {
			continue
		}
		out = append(out, Participant{Parsed: parsed, Role: roleTo})
	}
	for _, parsed := range address.Parse(msg.CcHeader) {
		if parsed.Address == self {
			continue
		}
		if p.blacklist.IsBlacklisted(parsed.Address) {
			continue
		}
		out = append(out, Participant{Parsed: parsed, Role: roleIncluded})
	}

	return out
}

// sentBySelf reports whether the message's From header is the account
// itself, which decides whether surviving To addresses count as "sent to"
// or merely "seen". Cc addresses count as "included" either way.
func sentBySelf(msg *provider.Message, self string) bool {
	for _, parsed := range address.Parse(msg.FromHeader) {
		if parsed.Address == self {
			return true
		}
	}
	return false
}
