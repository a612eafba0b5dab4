package provider

import (
	"context"
	"sync"
)

// Mock is an in-memory Provider for Coordinator and processor tests.
type Mock struct {
	mu sync.Mutex

	Profile *Profile

	Messages     map[string]*Message // by message id
	MessagePages [][]MessageRef       // consumed in order by ListMessages
	HistoryPages []HistoryPage        // consumed in order by GetHistory

	ProfileError error
	ListError    error
	GetError     map[string]error // per-message-id error
	HistoryError error

	ProfileCalls      int
	ListMessagesCalls int
	GetMessageCalls   []string
	HistoryCalls      int
	LastQuery         string
}

// NewMock returns an empty Mock provider.
func NewMock() *Mock {
	return &Mock{
		Messages: make(map[string]*Message),
		GetError: make(map[string]error),
	}
}

func (m *Mock) GetProfile(ctx context.Context, account string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++

	if m.ProfileError != nil {
		return nil, m.ProfileError
	}
	if m.Profile == nil {
		return &Profile{EmailAddress: account}, nil
	}
	return m.Profile, nil
}

func (m *Mock) ListMessages(ctx context.Context, account, query, pageToken string) (*MessagePage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ListMessagesCalls++
	m.LastQuery = query

	if m.ListError != nil {
		return nil, m.ListError
	}

	idx := 0
	if pageToken != "" {
		var err error
		idx, err = decodePageIndex(pageToken)
		if err != nil {
			return nil, err
		}
	}
	if idx >= len(m.MessagePages) {
		return &MessagePage{}, nil
	}

	page := &MessagePage{Messages: m.MessagePages[idx]}
	if idx+1 < len(m.MessagePages) {
		page.NextPageToken = encodePageIndex(idx + 1)
	}
	return page, nil
}

func (m *Mock) GetMessage(ctx context.Context, account, messageID string) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetMessageCalls = append(m.GetMessageCalls, messageID)

	if err, ok := m.GetError[messageID]; ok && err != nil {
		return nil, err
	}
	msg, ok := m.Messages[messageID]
	if !ok {
		return nil, &NotFoundError{Account: account, MessageID: messageID}
	}
	return msg, nil
}

func (m *Mock) BatchGetMessages(ctx context.Context, account string, messageIDs []string) ([]*Message, error) {
	results := make([]*Message, len(messageIDs))
	for i, id := range messageIDs {
		msg, err := m.GetMessage(ctx, account, id)
		if err != nil {
			results[i] = nil
			continue
		}
		results[i] = msg
	}
	return results, nil
}

func (m *Mock) GetHistory(ctx context.Context, account, cursor, pageToken string) (*HistoryPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls++

	if m.HistoryError != nil {
		return nil, m.HistoryError
	}

	idx := 0
	if pageToken != "" {
		var err error
		idx, err = decodePageIndex(pageToken)
		if err != nil {
			return nil, err
		}
	}
	if idx >= len(m.HistoryPages) {
		return &HistoryPage{Cursor: cursor}, nil
	}

	page := m.HistoryPages[idx]
	if idx+1 < len(m.HistoryPages) {
		page.NextPageToken = encodePageIndex(idx + 1)
	}
	return &page, nil
}

var _ Provider = (*Mock)(nil)
