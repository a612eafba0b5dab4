package ingest

import "github.com/relgraph/relgraph/internal/store"

// insertionPlan stages every new Company+Domain and Contact+EmailAddress
// row a message's participants require.
type insertionPlan struct {
	companyDomains []store.CompanyDomainInsert
	contactEmails  []store.ContactEmailInsert

	// domainCompany resolves every participant's domain to the company id
	// it will belong to once CommitInsertions runs (existing or newly
	// staged), so the delta-building step never re-derives it.
	domainCompany map[string]string

	// existingEmails holds the stored lookup row for addresses that
	// already had a Contact; the delta step reads their contact id from it.
	existingEmails map[string]store.EmailLookup
}

// plan performs the bulk existence lookup and decides what's new.
func (p *Processor) plan(participants []Participant) (*insertionPlan, error) {
	domainSet := map[string]struct{}{}
	addressSet := map[string]struct{}{}
	for _, pt := range participants {
		domainSet[pt.Domain] = struct{}{}
		addressSet[pt.Address] = struct{}{}
	}

	domains := make([]string, 0, len(domainSet))
	for d := range domainSet {
		domains = append(domains, d)
	}
	addresses := make([]string, 0, len(addressSet))
	for a := range addressSet {
		addresses = append(addresses, a)
	}

	existingDomains, err := p.store.FetchDomains(domains)
	if err != nil {
		return nil, err
	}
	existingEmails, err := p.store.FetchEmails(addresses)
	if err != nil {
		return nil, err
	}

	plan := &insertionPlan{
		domainCompany:  make(map[string]string, len(domains)),
		existingEmails: existingEmails,
	}

	for _, d := range domains {
		if lookup, ok := existingDomains[d]; ok {
			plan.domainCompany[d] = lookup.CompanyID
			continue
		}
		companyID := store.NewCompanyID()
		plan.domainCompany[d] = companyID
		plan.companyDomains = append(plan.companyDomains, store.CompanyDomainInsert{
			CompanyID: companyID,
			Domain:    d,
		})
	}

	seen := map[string]bool{}
	for _, pt := range participants {
		if seen[pt.Address] {
			continue
		}
		seen[pt.Address] = true

		if _, ok := existingEmails[pt.Address]; ok {
			continue
		}
		plan.contactEmails = append(plan.contactEmails, store.ContactEmailInsert{
			ContactID: store.NewContactID(),
			CompanyID: plan.domainCompany[pt.Domain],
			Address:   pt.Address,
			Domain:    pt.Domain,
			Name:      pt.Name,
		})
	}

	return plan, nil
}
