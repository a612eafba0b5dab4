package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/relgraph/relgraph/internal/blacklist"
	"github.com/relgraph/relgraph/internal/scheduler"
	"github.com/relgraph/relgraph/internal/store"
)

const timeLayout = "2006-01-02T15:04:05Z"

// StatsResponse represents the coarse entity counts.
type StatsResponse struct {
	Companies int64 `json:"companies"`
	Domains   int64 `json:"domains"`
	Contacts  int64 `json:"contacts"`
	Emails    int64 `json:"emails"`
}

// StatsFields represents the five interaction counters and first/last-seen
// bounds shared by Companies, Domains, Contacts, and EmailAddresses.
type StatsFields struct {
	EmailsTo          int64  `json:"emails_to"`
	EmailsFrom        int64  `json:"emails_from"`
	EmailsIncluded    int64  `json:"emails_included"`
	MeetingsCompleted int64  `json:"meetings_completed"`
	MeetingsUpcoming  int64  `json:"meetings_upcoming"`
	FirstSeen         string `json:"first_seen,omitempty"`
	LastSeen          string `json:"last_seen,omitempty"`
}

func statsFields(s store.Stats) StatsFields {
	f := StatsFields{
		EmailsTo:          s.EmailsTo,
		EmailsFrom:        s.EmailsFrom,
		EmailsIncluded:    s.EmailsIncluded,
		MeetingsCompleted: s.MeetingsCompleted,
		MeetingsUpcoming:  s.MeetingsUpcoming,
	}
	if s.FirstSeen.Valid {
		f.FirstSeen = s.FirstSeen.Time.UTC().Format(timeLayout)
	}
	if s.LastSeen.Valid {
		f.LastSeen = s.LastSeen.Time.UTC().Format(timeLayout)
	}
	return f
}

// CompanyResponse represents a company in list/get responses.
type CompanyResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	StatsFields
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func companyResponse(c store.Company) CompanyResponse {
	return CompanyResponse{
		ID:          c.ID,
		DisplayName: c.DisplayName.String,
		StatsFields: statsFields(c.Stats),
		CreatedAt:   c.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   c.UpdatedAt.UTC().Format(timeLayout),
	}
}

// DomainResponse represents a domain in list/get responses.
type DomainResponse struct {
	Domain    string `json:"domain"`
	CompanyID string `json:"company_id"`
	IsPrimary bool   `json:"is_primary"`
	StatsFields
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func domainResponse(d store.Domain) DomainResponse {
	return DomainResponse{
		Domain:      d.Domain,
		CompanyID:   d.CompanyID,
		IsPrimary:   d.IsPrimary,
		StatsFields: statsFields(d.Stats),
		CreatedAt:   d.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   d.UpdatedAt.UTC().Format(timeLayout),
	}
}

// ThreadRefResponse mirrors store.ThreadRef for the query surface.
type ThreadRefResponse struct {
	ThreadID  string `json:"thread_id"`
	Account   string `json:"account"`
	Timestamp string `json:"timestamp"`
}

func threadRefResponses(refs []store.ThreadRef) []ThreadRefResponse {
	out := make([]ThreadRefResponse, len(refs))
	for i, t := range refs {
		out[i] = ThreadRefResponse{
			ThreadID:  t.ThreadID,
			Account:   t.Account,
			Timestamp: t.Timestamp.UTC().Format(timeLayout),
		}
	}
	return out
}

// ContactResponse represents a contact in list/get responses.
type ContactResponse struct {
	ID            string              `json:"id"`
	CompanyID     string              `json:"company_id"`
	Name          string              `json:"name,omitempty"`
	RecentThreads []ThreadRefResponse `json:"recent_threads,omitempty"`
	StatsFields
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func contactResponse(c store.Contact) ContactResponse {
	return ContactResponse{
		ID:            c.ID,
		CompanyID:     c.CompanyID,
		Name:          c.Name.String,
		RecentThreads: threadRefResponses(c.RecentThreads),
		StatsFields:   statsFields(c.Stats),
		CreatedAt:     c.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:     c.UpdatedAt.UTC().Format(timeLayout),
	}
}

// EmailAddressResponse represents an email address in list responses.
type EmailAddressResponse struct {
	Address       string              `json:"address"`
	ContactID     string              `json:"contact_id"`
	Domain        string              `json:"domain"`
	ObservedName  string              `json:"observed_name,omitempty"`
	Active        bool                `json:"active"`
	RecentThreads []ThreadRefResponse `json:"recent_threads,omitempty"`
	StatsFields
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func emailAddressResponse(e store.EmailAddress) EmailAddressResponse {
	return EmailAddressResponse{
		Address:       e.Address,
		ContactID:     e.ContactID,
		Domain:        e.Domain,
		ObservedName:  e.ObservedName.String,
		Active:        e.Active,
		RecentThreads: threadRefResponses(e.RecentThreads),
		StatsFields:   statsFields(e.Stats),
		CreatedAt:     e.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:     e.UpdatedAt.UTC().Format(timeLayout),
	}
}

// BlacklistEntryResponse represents a blacklist entry.
type BlacklistEntryResponse struct {
	Domain   string `json:"domain"`
	Category string `json:"category"`
	Source   string `json:"source,omitempty"`
}

// AccountInfo represents an account in list responses.
type AccountInfo struct {
	Email      string `json:"email"`
	LastSyncAt string `json:"last_sync_at,omitempty"`
	NextSyncAt string `json:"next_sync_at,omitempty"`
	Schedule   string `json:"schedule,omitempty"`
	Enabled    bool   `json:"enabled"`
}

// SchedulerStatusResponse represents scheduler status.
type SchedulerStatusResponse struct {
	Running  bool                      `json:"running"`
	Accounts []scheduler.AccountStatus `json:"accounts"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err string, message string) {
	writeJSON(w, status, ErrorResponse{Error: err, Message: message})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Error("failed to get stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve statistics")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Companies: stats.CompanyCount,
		Domains:   stats.DomainCount,
		Contacts:  stats.ContactCount,
		Emails:    stats.EmailCount,
	})
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	companies, err := s.store.ListCompanies()
	if err != nil {
		s.logger.Error("failed to list companies", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve companies")
		return
	}

	out := make([]CompanyResponse, len(companies))
	for i, c := range companies {
		out[i] = companyResponse(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"companies": out})
}

func (s *Server) handleGetCompany(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	id := chi.URLParam(r, "id")
	company, err := s.store.GetCompany(id)
	if err != nil {
		s.logger.Error("failed to get company", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve company")
		return
	}
	if company == nil {
		writeError(w, http.StatusNotFound, "not_found", "Company not found")
		return
	}
	writeJSON(w, http.StatusOK, companyResponse(*company))
}

func (s *Server) handleDeleteCompany(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteCompany(id); err != nil {
		s.logger.Error("failed to delete company", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to delete company")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	companyID := r.URL.Query().Get("company_id")
	domains, err := s.store.ListDomains(companyID)
	if err != nil {
		s.logger.Error("failed to list domains", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve domains")
		return
	}

	out := make([]DomainResponse, len(domains))
	for i, d := range domains {
		out[i] = domainResponse(d)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"domains": out})
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	domain := chi.URLParam(r, "domain")
	d, err := s.store.GetDomain(domain)
	if err != nil {
		s.logger.Error("failed to get domain", "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve domain")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "not_found", "Domain not found")
		return
	}
	writeJSON(w, http.StatusOK, domainResponse(*d))
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	companyID := r.URL.Query().Get("company_id")
	contacts, err := s.store.ListContacts(companyID)
	if err != nil {
		s.logger.Error("failed to list contacts", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve contacts")
		return
	}

	out := make([]ContactResponse, len(contacts))
	for i, c := range contacts {
		out[i] = contactResponse(c)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": out})
}

func (s *Server) handleGetContact(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	id := chi.URLParam(r, "id")
	contact, err := s.store.GetContact(id)
	if err != nil {
		s.logger.Error("failed to get contact", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve contact")
		return
	}
	if contact == nil {
		writeError(w, http.StatusNotFound, "not_found", "Contact not found")
		return
	}
	writeJSON(w, http.StatusOK, contactResponse(*contact))
}

func (s *Server) handleListContactEmails(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	id := chi.URLParam(r, "id")
	emails, err := s.store.ListEmailAddresses(id)
	if err != nil {
		s.logger.Error("failed to list email addresses", "contact_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve email addresses")
		return
	}

	out := make([]EmailAddressResponse, len(emails))
	for i, e := range emails {
		out[i] = emailAddressResponse(e)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"emails": out})
}

func (s *Server) handleListBlacklist(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	entries, err := s.store.ListBlacklistDomains()
	if err != nil {
		s.logger.Error("failed to list blacklist", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to retrieve blacklist")
		return
	}

	out := make([]BlacklistEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = BlacklistEntryResponse{Domain: e.Domain, Category: string(e.Category), Source: e.Source}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"blacklist": out})
}

func (s *Server) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	var req struct {
		Domain   string `json:"domain"`
		Category string `json:"category"`
		Source   string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "Could not parse request body")
		return
	}
	domain := strings.ToLower(strings.TrimSpace(req.Domain))
	if domain == "" {
		writeError(w, http.StatusBadRequest, "missing_domain", "Field 'domain' is required")
		return
	}
	category := blacklist.Category(req.Category)
	if category == "" {
		category = blacklist.CategoryManual
	}

	if err := s.store.AddBlacklistDomain(domain, category, req.Source); err != nil {
		s.logger.Error("failed to add blacklist domain", "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to add blacklist entry")
		return
	}

	writeJSON(w, http.StatusCreated, BlacklistEntryResponse{Domain: domain, Category: string(category), Source: req.Source})
}

func (s *Server) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "Database not available")
		return
	}
	domain := chi.URLParam(r, "domain")
	if err := s.store.RemoveBlacklistDomain(domain); err != nil {
		s.logger.Error("failed to remove blacklist domain", "domain", domain, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to remove blacklist entry")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not available")
		return
	}
	var accounts []AccountInfo

	for _, acc := range s.cfg.Accounts {
		info := AccountInfo{
			Email:    acc.Email,
			Schedule: acc.Schedule,
			Enabled:  acc.Enabled,
		}

		for _, status := range s.scheduler.Status() {
			if status.Email == acc.Email {
				if !status.LastRun.IsZero() {
					info.LastSyncAt = status.LastRun.UTC().Format(timeLayout)
				}
				if !status.NextRun.IsZero() {
					info.NextSyncAt = status.NextRun.UTC().Format(timeLayout)
				}
				break
			}
		}

		accounts = append(accounts, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not available")
		return
	}
	account := chi.URLParam(r, "account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "Account email is required")
		return
	}

	if err := s.scheduler.TriggerSync(account); err != nil {
		s.logger.Error("failed to trigger sync", "account", account, "error", err)
		writeError(w, http.StatusConflict, "sync_error", err.Error())
		return
	}

	s.logger.Info("sync triggered via API", "account", account)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"message": "Sync started for " + account,
	})
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler not available")
		return
	}
	writeJSON(w, http.StatusOK, SchedulerStatusResponse{
		Running:  s.scheduler.IsRunning(),
		Accounts: s.scheduler.Status(),
	})
}
