//go:build integration

package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dawgdevv/bitespeed/internal/database"
	"github.com/dawgdevv/bitespeed/internal/models"
)

// Run with:
//
//	BITESPEED_TEST_POSTGRES_URL=postgres://localhost/bitespeed_test?sslmode=disable \
//	    go test -tags integration ./internal/...
const postgresURLEnv = "BITESPEED_TEST_POSTGRES_URL"

// createPostgresStore connects to the database named by postgresURLEnv and
// empties the contacts table. Tests skip when the variable is unset.
func createPostgresStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	url := os.Getenv(postgresURLEnv)
	if url == "" {
		t.Skipf("%s not set", postgresURLEnv)
	}

	ctx := context.Background()
	db, err := database.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.Equal(t, database.DialectPostgres, db.Dialect)

	_, err = db.Conn.ExecContext(ctx, `TRUNCATE contacts RESTART IDENTITY`)
	require.NoError(t, err)

	if len(opts) == 0 {
		opts = []Option{WithClock(stepClock())}
	}
	return New(db, opts...)
}

func TestPostgres_TimestampsRoundTripAndOrder(t *testing.T) {
	created := []time.Time{
		time.Date(2023, 4, 1, 0, 0, 30, 123456000, time.UTC),
		time.Date(2023, 4, 1, 0, 0, 10, 0, time.UTC),
	}
	i := 0
	s := createPostgresStore(t, WithClock(func() time.Time {
		ts := created[i%len(created)]
		i++
		return ts
	}))
	ctx := context.Background()

	late := insert(t, s, strPtr("late@x.io"), strPtr("1"), nil, models.PrecedencePrimary)
	early := insert(t, s, strPtr("early@x.io"), strPtr("1"), nil, models.PrecedencePrimary)

	matches, err := s.FetchByEmailOrPhone(ctx, nil, strPtr("1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{early, late}, ids(matches), "ordered by created_at, not id")
	assert.True(t, created[1].Equal(matches[0].CreatedAt))
	assert.True(t, created[0].Equal(matches[1].CreatedAt), "microseconds survive TIMESTAMPTZ")
	assert.Equal(t, time.UTC, matches[0].CreatedAt.Location())
}

func TestPostgres_IDSetsAndMergeUpdates(t *testing.T) {
	s := createPostgresStore(t)
	ctx := context.Background()

	p1 := insert(t, s, strPtr("a@x.io"), nil, nil, models.PrecedencePrimary)
	p2 := insert(t, s, strPtr("b@x.io"), nil, nil, models.PrecedencePrimary)
	p3 := insert(t, s, strPtr("c@x.io"), nil, nil, models.PrecedencePrimary)
	s2 := insert(t, s, strPtr("d@x.io"), nil, &p2, models.PrecedenceSecondary)
	s3 := insert(t, s, strPtr("e@x.io"), nil, &p3, models.PrecedenceSecondary)

	expanded, err := s.FetchByIDsOrLinkedIDs(ctx, []int64{p2, p3})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{p2, p3, s2, s3}, ids(expanded))

	n, err := s.UpdatePrecedenceAndLink(ctx, []int64{p2, p3}, models.PrecedenceSecondary, &p1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.RelinkSecondaries(ctx, []int64{p2, p3}, p1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	cluster, err := s.FetchCluster(ctx, p1)
	require.NoError(t, err)
	assert.Equal(t, []int64{p1, p2, p3, s2, s3}, ids(cluster))
	for _, c := range cluster[1:] {
		assert.Equal(t, models.PrecedenceSecondary, c.LinkPrecedence)
		require.NotNil(t, c.LinkedID)
		assert.Equal(t, p1, *c.LinkedID)
	}
}

func TestPostgres_LockKeysBlocksOtherTransactions(t *testing.T) {
	s := createPostgresStore(t)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.LockKeys(ctx, "email:a@x.io", "primary:1"); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	blocked, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	err := s.WithinTx(blocked, func(ctx context.Context) error {
		return s.LockKeys(ctx, "email:a@x.io")
	})
	assert.Error(t, err, "the lock is held by the other transaction")

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		return s.LockKeys(ctx, "email:b@x.io")
	})
	assert.NoError(t, err, "unrelated keys do not contend")

	close(release)
	require.NoError(t, <-done)

	err = s.WithinTx(ctx, func(ctx context.Context) error {
		return s.LockKeys(ctx, "email:a@x.io")
	})
	assert.NoError(t, err, "released on commit")
}
