package gmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/relgraph/relgraph/internal/provider"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient("me@acme.com", oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))
	c.httpClient = srv.Client()
	return c, srv
}

// rewriteRequestPath lets tests point the client at an httptest.Server
// instead of the real Gmail API by swapping in a transport that redirects
// each request to the test server.
func rewriteRequestPath(c *Client, srv *httptest.Server) {
	c.httpClient.Transport = rewritingTransport{base: srv.URL, inner: http.DefaultTransport}
}

type rewritingTransport struct {
	base  string
	inner http.RoundTripper
}

func (t rewritingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	u := req.URL
	rewritten := strings.Replace(u.String(), baseURL, t.base, 1)
	newReq := req.Clone(req.Context())
	newURL, err := u.Parse(rewritten)
	if err != nil {
		return nil, err
	}
	newReq.URL = newURL
	newReq.Host = ""
	return t.inner.RoundTrip(newReq)
}

func TestGetMessage_ParsesHeadersAndInternalDate(t *testing.T) {
	resp := messageResponse{
		ID:           "m1",
		ThreadID:     "t1",
		InternalDate: "1700000000000",
		Payload: messagePayload{Headers: []messageHeader{
			{Name: "Date", Value: "Mon, 2 Jan 2006 15:04:05 +0000"},
			{Name: "From", Value: "alice@acme.com"},
			{Name: "To", Value: "bob@acme.com"},
			{Name: "Cc", Value: "carol@acme.com"},
			{Name: "Subject", Value: "ignored"},
		}},
	}
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resp)
	})
	rewriteRequestPath(c, srv)

	msg, err := c.getMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("getMessage() error = %v", err)
	}
	if msg.FromHeader != "alice@acme.com" || msg.ToHeader != "bob@acme.com" || msg.CcHeader != "carol@acme.com" {
		t.Errorf("headers = %+v, want alice/bob/carol", msg)
	}
	if msg.DateHeader != "Mon, 2 Jan 2006 15:04:05 +0000" {
		t.Errorf("DateHeader = %q, want raw Date header captured unparsed", msg.DateHeader)
	}
	if msg.InternalDate.Unix() != 1700000000 {
		t.Errorf("InternalDate = %v, want unix 1700000000", msg.InternalDate)
	}
}

func TestGetMessage_404IsNotFoundError(t *testing.T) {
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rewriteRequestPath(c, srv)

	_, err := c.getMessage(context.Background(), "gone")
	var notFound *provider.NotFoundError
	if !asNotFound(err, &notFound) {
		t.Fatalf("getMessage() error = %v, want *provider.NotFoundError", err)
	}
}

func TestGetHistory_404BecomesCursorExpired(t *testing.T) {
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	rewriteRequestPath(c, srv)

	_, err := c.getHistory(context.Background(), "12345", "")
	var expired *provider.CursorExpiredError
	if !asCursorExpired(err, &expired) {
		t.Fatalf("getHistory() error = %v, want *provider.CursorExpiredError", err)
	}
}

func TestGetHistory_CollectsAddedMessageIDs(t *testing.T) {
	resp := listHistoryResponse{
		History: []historyEntry{
			{MessagesAdded: []historyMessageChange{{Message: gmailMessageRef{ID: "m1"}}}},
			{MessagesAdded: []historyMessageChange{{Message: gmailMessageRef{ID: "m2"}}}},
		},
		HistoryID: "99999",
	}
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resp)
	})
	rewriteRequestPath(c, srv)

	page, err := c.getHistory(context.Background(), "12345", "")
	if err != nil {
		t.Fatalf("getHistory() error = %v", err)
	}
	if len(page.AddedMessageIDs) != 2 || page.Cursor != "99999" {
		t.Errorf("page = %+v, want 2 added ids and cursor 99999", page)
	}
}

func TestListMessages_ReturnsPageToken(t *testing.T) {
	resp := listMessagesResponse{
		Messages:      []gmailMessageRef{{ID: "m1", ThreadID: "t1"}},
		NextPageToken: "next",
	}
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resp)
	})
	rewriteRequestPath(c, srv)

	page, err := c.listMessages(context.Background(), "after:2024-01-01", "")
	if err != nil {
		t.Fatalf("listMessages() error = %v", err)
	}
	if len(page.Messages) != 1 || page.NextPageToken != "next" {
		t.Errorf("page = %+v, want 1 message and next page token", page)
	}
}

func TestBatchGetMessages_PartialFailureDoesNotFailBatch(t *testing.T) {
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "bad") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(messageResponse{ID: "ok"})
	})
	rewriteRequestPath(c, srv)

	results, err := c.batchGetMessages(context.Background(), []string{"ok", "bad"})
	if err != nil {
		t.Fatalf("batchGetMessages() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results len = %d, want 2", len(results))
	}

	var gotOK, gotNil bool
	for _, r := range results {
		if r == nil {
			gotNil = true
		} else if r.ID == "ok" {
			gotOK = true
		}
	}
	if !gotOK || !gotNil {
		t.Errorf("results = %+v, want one success and one nil", results)
	}
}

func asNotFound(err error, target **provider.NotFoundError) bool {
	nf, ok := err.(*provider.NotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

func asCursorExpired(err error, target **provider.CursorExpiredError) bool {
	ce, ok := err.(*provider.CursorExpiredError)
	if ok {
		*target = ce
	}
	return ok
}
