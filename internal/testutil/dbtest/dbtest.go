// Package dbtest provides an in-memory Store for package tests.
package dbtest

import (
	"testing"

	"github.com/relgraph/relgraph/internal/store"
)

// Open returns a fresh in-memory Store with schema applied, closed
// automatically via t.Cleanup.
func Open(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	if err := s.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
