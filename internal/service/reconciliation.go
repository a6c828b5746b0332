package service

import (
	"context"
	"sort"
	"strconv"

	"github.com/dawgdevv/bitespeed/internal/logger"
	"github.com/dawgdevv/bitespeed/internal/models"
)

// ContactStore is the persistence the reconciliation needs. Every method
// must honour the transaction that WithinTx places in the context.
type ContactStore interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	LockKeys(ctx context.Context, keys ...string) error

	InsertContact(ctx context.Context, email, phoneNumber *string, linkedID *int64, precedence models.LinkPrecedence) (int64, error)
	FetchByEmailOrPhone(ctx context.Context, email, phoneNumber *string) ([]*models.Contact, error)
	FetchByIDsOrLinkedIDs(ctx context.Context, ids []int64) ([]*models.Contact, error)
	FetchCluster(ctx context.Context, primaryID int64) ([]*models.Contact, error)
	UpdatePrecedenceAndLink(ctx context.Context, ids []int64, precedence models.LinkPrecedence, linkedID *int64) (int64, error)
	RelinkSecondaries(ctx context.Context, oldLinkedIDs []int64, newLinkedID int64) (int64, error)
	ListContacts(ctx context.Context) ([]*models.Contact, error)
}

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	store ContactStore
	log   *logger.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(store ContactStore, log *logger.Logger) *ReconciliationService {
	if log == nil {
		log = logger.Nop()
	}
	return &ReconciliationService{store: store, log: log.With("component", "reconciliation")}
}

// Identify links the request's email and phone number to the cluster they
// belong to, creating or merging clusters as needed, and returns the
// cluster's consolidated view. The whole sequence runs in one transaction.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	email, phoneNumber, err := Normalize(req.Email, req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	var response *models.IdentifyResponse
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		r, err := s.reconcile(ctx, email, phoneNumber)
		if err != nil {
			return err
		}
		response = r
		return nil
	})
	if err != nil {
		err = classify("reconcile", err)
		if KindOf(err) == KindInvariant {
			s.log.Error("invariant violation during reconciliation", "email", email, "phone", phoneNumber, "error", err)
		}
		return nil, err
	}
	return response, nil
}

// ListContacts returns every stored contact ordered by id.
func (s *ReconciliationService) ListContacts(ctx context.Context) ([]*models.Contact, error) {
	contacts, err := s.store.ListContacts(ctx)
	if err != nil {
		return nil, storeError("list contacts", err)
	}
	if contacts == nil {
		contacts = []*models.Contact{}
	}
	return contacts, nil
}

func (s *ReconciliationService) reconcile(ctx context.Context, email, phoneNumber *string) (*models.IdentifyResponse, error) {
	if err := s.store.LockKeys(ctx, identityKeys(email, phoneNumber)...); err != nil {
		return nil, storeError("lock identity", err)
	}

	matches, err := s.store.FetchByEmailOrPhone(ctx, email, phoneNumber)
	if err != nil {
		return nil, storeError("match contacts", err)
	}
	if len(matches) == 0 {
		return s.createPrimary(ctx, email, phoneNumber)
	}

	canonical, candidates, err := s.resolveCluster(ctx, email, phoneNumber, matches)
	if err != nil {
		return nil, err
	}

	demoted, err := s.merge(ctx, canonical, candidates)
	if err != nil {
		return nil, err
	}

	cluster, appended, err := s.appendFacts(ctx, canonical.ID, email, phoneNumber)
	if err != nil {
		return nil, err
	}

	s.log.Debug("reconciled contact",
		"primary_id", canonical.ID,
		"matched", len(matches),
		"demoted", demoted,
		"appended", appended,
	)
	return buildResponse(canonical.ID, cluster)
}

// createPrimary starts a new cluster from a request nothing matched.
func (s *ReconciliationService) createPrimary(ctx context.Context, email, phoneNumber *string) (*models.IdentifyResponse, error) {
	id, err := s.store.InsertContact(ctx, email, phoneNumber, nil, models.PrecedencePrimary)
	if err != nil {
		return nil, storeError("create primary contact", err)
	}
	cluster, err := s.store.FetchCluster(ctx, id)
	if err != nil {
		return nil, storeError("fetch new cluster", err)
	}
	s.log.Debug("created primary contact", "primary_id", id)
	return buildResponse(id, cluster)
}

// resolveCluster expands matched rows to every primary they implicate plus
// those primaries' secondaries, and picks the canonical primary.
//
// The matches were read before the primaries were locked, so a merge that
// committed in between may have demoted one of them. After each lock the
// matches are read again and any primary not yet locked is locked too,
// until the implicated set is stable under the held locks.
func (s *ReconciliationService) resolveCluster(ctx context.Context, email, phoneNumber *string, matches []*models.Contact) (*models.Contact, []*models.Contact, error) {
	locked := make(map[int64]struct{})
	primaryIDs := implicatedPrimaries(matches)

	for {
		if err := s.lockPrimaries(ctx, locked, primaryIDs); err != nil {
			return nil, nil, err
		}

		var err error
		matches, err = s.store.FetchByEmailOrPhone(ctx, email, phoneNumber)
		if err != nil {
			return nil, nil, storeError("rematch contacts", err)
		}
		primaryIDs = implicatedPrimaries(matches)

		candidates, err := s.store.FetchByIDsOrLinkedIDs(ctx, primaryIDs)
		if err != nil {
			return nil, nil, storeError("expand cluster", err)
		}
		primaryIDs = withParents(primaryIDs, candidates)

		if allLocked(locked, primaryIDs) {
			canonical := canonicalPrimary(candidates)
			if canonical == nil {
				return nil, nil, invariantError("no primary contact among %v", primaryIDs)
			}
			return canonical, candidates, nil
		}
	}
}

// lockPrimaries takes the primary locks in ids that are not held yet.
func (s *ReconciliationService) lockPrimaries(ctx context.Context, locked map[int64]struct{}, ids []int64) error {
	var pending []int64
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if err := s.store.LockKeys(ctx, primaryKeys(pending)...); err != nil {
		return storeError("lock primaries", err)
	}
	for _, id := range pending {
		locked[id] = struct{}{}
	}
	return nil
}

// withParents adds the parent of every secondary among candidates that
// was expected to be a primary in ids.
func withParents(ids []int64, candidates []*models.Contact) []int64 {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	out := append([]int64(nil), ids...)
	for _, c := range candidates {
		if c.IsPrimary() || c.LinkedID == nil {
			continue
		}
		if _, wanted := set[c.ID]; !wanted {
			continue
		}
		if _, ok := set[*c.LinkedID]; !ok {
			set[*c.LinkedID] = struct{}{}
			out = append(out, *c.LinkedID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func allLocked(locked map[int64]struct{}, ids []int64) bool {
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return false
		}
	}
	return true
}

// merge demotes every primary other than canonical and re-parents their
// secondaries onto canonical. It returns the number of demoted primaries.
func (s *ReconciliationService) merge(ctx context.Context, canonical *models.Contact, candidates []*models.Contact) (int, error) {
	var demoted []int64
	for _, c := range candidates {
		if c.IsPrimary() && c.ID != canonical.ID {
			demoted = append(demoted, c.ID)
		}
	}
	if len(demoted) == 0 {
		return 0, nil
	}

	canonicalID := canonical.ID
	if _, err := s.store.UpdatePrecedenceAndLink(ctx, demoted, models.PrecedenceSecondary, &canonicalID); err != nil {
		return 0, storeError("demote primaries", err)
	}
	if _, err := s.store.RelinkSecondaries(ctx, demoted, canonicalID); err != nil {
		return 0, storeError("relink secondaries", err)
	}

	s.log.Info("merged clusters", "primary_id", canonicalID, "demoted_ids", demoted)
	return len(demoted), nil
}

// appendFacts inserts a secondary when the request carries an email or
// phone number the cluster does not know yet, and returns the final cluster.
func (s *ReconciliationService) appendFacts(ctx context.Context, primaryID int64, email, phoneNumber *string) ([]*models.Contact, bool, error) {
	cluster, err := s.store.FetchCluster(ctx, primaryID)
	if err != nil {
		return nil, false, storeError("fetch cluster", err)
	}
	if !hasNewInformation(cluster, email, phoneNumber) {
		return cluster, false, nil
	}

	linkedID := primaryID
	if _, err := s.store.InsertContact(ctx, email, phoneNumber, &linkedID, models.PrecedenceSecondary); err != nil {
		return nil, false, storeError("create secondary contact", err)
	}

	cluster, err = s.store.FetchCluster(ctx, primaryID)
	if err != nil {
		return nil, false, storeError("refetch cluster", err)
	}
	return cluster, true, nil
}

// hasNewInformation reports whether email or phoneNumber is missing from
// the cluster.
func hasNewInformation(cluster []*models.Contact, email, phoneNumber *string) bool {
	emails := newOrderedSet(nil)
	phones := newOrderedSet(nil)
	for _, c := range cluster {
		emails.add(c.Email)
		phones.add(c.PhoneNumber)
	}
	if email != nil && !emails.contains(*email) {
		return true
	}
	return phoneNumber != nil && !phones.contains(*phoneNumber)
}

// implicatedPrimaries returns the distinct primary ids the matched rows
// belong to, in ascending order.
func implicatedPrimaries(matches []*models.Contact) []int64 {
	seen := make(map[int64]struct{}, len(matches))
	for _, c := range matches {
		switch {
		case c.IsPrimary():
			seen[c.ID] = struct{}{}
		case c.LinkedID != nil:
			seen[*c.LinkedID] = struct{}{}
		}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// canonicalPrimary picks the oldest primary, lowest id on ties.
func canonicalPrimary(contacts []*models.Contact) *models.Contact {
	var canonical *models.Contact
	for _, c := range contacts {
		if !c.IsPrimary() {
			continue
		}
		if canonical == nil || c.Before(canonical) {
			canonical = c
		}
	}
	return canonical
}

func identityKeys(email, phoneNumber *string) []string {
	var keys []string
	if email != nil {
		keys = append(keys, "email:"+*email)
	}
	if phoneNumber != nil {
		keys = append(keys, "phone:"+*phoneNumber)
	}
	return keys
}

func primaryKeys(ids []int64) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "primary:" + strconv.FormatInt(id, 10)
	}
	return keys
}
