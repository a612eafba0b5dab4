package ingest

import (
	"fmt"
	"strings"

	"github.com/relgraph/relgraph/internal/provider"
	"github.com/relgraph/relgraph/internal/store"
)

// buildDeltaBatch resolves every participant to its final company/contact
// id and accumulates counter deltas, thread touches, and name upgrades
// into one batch.
func (p *Processor) buildDeltaBatch(
	account string,
	msg *provider.Message,
	participants []Participant,
	plan *insertionPlan,
	domainWinners map[string]string,
	emailWinners map[string]string,
) (*store.DeltaBatch, error) {
	self := strings.ToLower(account)
	sent := sentBySelf(msg, self)
	msgDate := resolveMessageDate(msg)

	batch := store.NewDeltaBatch()

	contactOf := func(address string) (string, error) {
		if id, ok := emailWinners[address]; ok {
			return id, nil
		}
		if lookup, ok := plan.existingEmails[address]; ok {
			return lookup.ContactID, nil
		}
		return "", fmt.Errorf("no contact resolved for %s", address)
	}
	companyOfDomain := func(domain string) (string, error) {
		if id, ok := domainWinners[domain]; ok {
			return id, nil
		}
		if id, ok := plan.domainCompany[domain]; ok {
			return id, nil
		}
		return "", fmt.Errorf("no company resolved for domain %s", domain)
	}

	seenRole := map[Participant]bool{}
	for _, pt := range participants {
		if seenRole[pt] {
			continue
		}
		seenRole[pt] = true

		contactID, err := contactOf(pt.Address)
		if err != nil {
			return nil, err
		}
		companyID, err := companyOfDomain(pt.Domain)
		if err != nil {
			return nil, err
		}

		// Role-to-counter mapping: a From survivor is by
		// construction not self, so it always represents a message
		// received from that entity. A To survivor only represents a
		// message self sent to them when self is the sender; otherwise
		// they were merely a fellow recipient and contribute no directed
		// count. Cc survivors always count as "included", regardless of
		// who sent the message.
		delta := store.StatDelta{MessageDate: msgDate}
		switch pt.Role {
		case roleTo:
			if sent {
				delta.To = 1
			}
		case roleFrom:
			delta.From = 1
		case roleIncluded:
			delta.Included = 1
		}

		batch.Companies[companyID] = batch.Companies[companyID].Add(delta)
		batch.Domains[pt.Domain] = batch.Domains[pt.Domain].Add(delta)
		batch.Contacts[contactID] = batch.Contacts[contactID].Add(delta)
		batch.Emails[pt.Address] = batch.Emails[pt.Address].Add(delta)

		touch := store.ThreadTouch{ThreadID: msg.ThreadID, Account: account, Timestamp: msgDate}
		batch.ContactThreads[contactID] = touch
		batch.EmailThreads[pt.Address] = touch

		if pt.Name != "" {
			// SetContactNameIfNull/SetEmailObservedNameIfNull only write
			// when the stored value is still NULL, so staging these
			// unconditionally is safe even for a contact that already got
			// its name at insert time.
			batch.NameUpgrades = append(batch.NameUpgrades,
				store.NameUpgrade{ContactID: contactID, Name: pt.Name},
				store.NameUpgrade{Address: pt.Address, Name: pt.Name},
			)
		}
	}

	return batch, nil
}
