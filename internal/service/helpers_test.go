package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dawgdevv/bitespeed/internal/database"
	"github.com/dawgdevv/bitespeed/internal/logger"
	"github.com/dawgdevv/bitespeed/internal/models"
	"github.com/dawgdevv/bitespeed/internal/store"
)

var epoch = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)

// testClock hands out timestamps one second apart, or a fixed queue of
// offsets from epoch when set.
type testClock struct {
	mu    sync.Mutex
	now   time.Time
	queue []time.Duration
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		d := c.queue[0]
		c.queue = c.queue[1:]
		return epoch.Add(d)
	}
	if c.now.IsZero() {
		c.now = epoch
	}
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *testClock) Push(offsets ...time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, offsets...)
}

type fixture struct {
	svc   *ReconciliationService
	store *store.Store
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &testClock{}
	st := store.New(db, store.WithClock(clock.Now))
	return &fixture{
		svc:   NewReconciliationService(st, logger.Nop()),
		store: st,
		clock: clock,
	}
}

func (f *fixture) identify(t *testing.T, email, phone string) *models.IdentifyResponse {
	t.Helper()
	resp, err := f.svc.Identify(context.Background(), request(email, phone))
	require.NoError(t, err)
	return resp
}

func (f *fixture) contacts(t *testing.T) []*models.Contact {
	t.Helper()
	all, err := f.store.ListContacts(context.Background())
	require.NoError(t, err)
	return all
}

func (f *fixture) insert(t *testing.T, email, phone string, linkedID *int64, p models.LinkPrecedence) int64 {
	t.Helper()
	id, err := f.store.InsertContact(context.Background(), optional(email), optional(phone), linkedID, p)
	require.NoError(t, err)
	return id
}

func request(email, phone string) models.IdentifyRequest {
	var req models.IdentifyRequest
	if email != "" {
		req.Email = models.StringValue(email)
	}
	if phone != "" {
		req.PhoneNumber = models.StringValue(phone)
	}
	return req
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func contact(id int64, email, phone string, linkedID int64, created time.Duration) *models.Contact {
	c := &models.Contact{
		ID:             id,
		Email:          optional(email),
		PhoneNumber:    optional(phone),
		LinkPrecedence: models.PrecedencePrimary,
		CreatedAt:      epoch.Add(created),
	}
	if linkedID != 0 {
		c.LinkedID = &linkedID
		c.LinkPrecedence = models.PrecedenceSecondary
	}
	return c
}

func response(primary int64, emails, phones []string, secondaries ...int64) *models.IdentifyResponse {
	if secondaries == nil {
		secondaries = []int64{}
	}
	return &models.IdentifyResponse{Contact: models.ContactResponse{
		PrimaryContactID:    primary,
		Emails:              emails,
		PhoneNumbers:        phones,
		SecondaryContactIDs: secondaries,
	}}
}

// faultyStore fails the named operation once it has been reached.
type faultyStore struct {
	*store.Store
	failOn string
	err    error
	// emptyCluster makes FetchCluster return no rows.
	emptyCluster bool
}

func (f *faultyStore) fail(op string) error {
	if f.failOn == op {
		return f.err
	}
	return nil
}

func (f *faultyStore) InsertContact(ctx context.Context, email, phone *string, linkedID *int64, p models.LinkPrecedence) (int64, error) {
	if err := f.fail("insert:" + string(p)); err != nil {
		return 0, err
	}
	return f.Store.InsertContact(ctx, email, phone, linkedID, p)
}

func (f *faultyStore) FetchCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	if err := f.fail("cluster"); err != nil {
		return nil, err
	}
	if f.emptyCluster {
		return nil, nil
	}
	return f.Store.FetchCluster(ctx, primaryID)
}

func (f *faultyStore) RelinkSecondaries(ctx context.Context, old []int64, newID int64) (int64, error) {
	if err := f.fail("relink"); err != nil {
		return 0, err
	}
	return f.Store.RelinkSecondaries(ctx, old, newID)
}

// racingStore demotes primary demote under primary into when the first
// primary lock is requested, as a concurrent merge committing between a
// read and its lock would on Postgres.
type racingStore struct {
	*store.Store
	demote, into int64
	fired        bool
	locks        [][]string
}

func (r *racingStore) LockKeys(ctx context.Context, keys ...string) error {
	r.locks = append(r.locks, keys)
	if !r.fired && hasPrimaryKey(keys) {
		r.fired = true
		ids := []int64{r.demote}
		if _, err := r.Store.UpdatePrecedenceAndLink(ctx, ids, models.PrecedenceSecondary, &r.into); err != nil {
			return err
		}
		if _, err := r.Store.RelinkSecondaries(ctx, ids, r.into); err != nil {
			return err
		}
	}
	return r.Store.LockKeys(ctx, keys...)
}

func hasPrimaryKey(keys []string) bool {
	for _, k := range keys {
		if strings.HasPrefix(k, "primary:") {
			return true
		}
	}
	return false
}
