package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dawgdevv/bitespeed/internal/database"
	"github.com/dawgdevv/bitespeed/internal/models"
)

// stepClock returns a clock that advances by one second on every call.
func stepClock() func() time.Time {
	t := time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

// createTestStore opens a fresh sqlite database in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("database.New() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if len(opts) == 0 {
		opts = []Option{WithClock(stepClock())}
	}
	return New(db, opts...)
}

func strPtr(s string) *string { return &s }

func insert(t *testing.T, s *Store, email, phone *string, linkedID *int64, p models.LinkPrecedence) int64 {
	t.Helper()
	id, err := s.InsertContact(context.Background(), email, phone, linkedID, p)
	require.NoError(t, err)
	return id
}

func ids(contacts []*models.Contact) []int64 {
	out := make([]int64, len(contacts))
	for i, c := range contacts {
		out[i] = c.ID
	}
	return out
}
