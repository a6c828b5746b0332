package service

import (
	"sort"

	"github.com/dawgdevv/bitespeed/internal/models"
)

// buildResponse projects a cluster onto the response shape. The primary's
// email and phone come first, then each secondary's in (createdAt, id)
// order, skipping nulls and repeats.
func buildResponse(primaryID int64, cluster []*models.Contact) (*models.IdentifyResponse, error) {
	var primary *models.Contact
	secondaries := make([]*models.Contact, 0, len(cluster))
	for _, c := range cluster {
		if c.ID == primaryID {
			primary = c
			continue
		}
		secondaries = append(secondaries, c)
	}
	if primary == nil {
		return nil, invariantError("primary contact %d not found in its cluster", primaryID)
	}

	sort.SliceStable(secondaries, func(i, j int) bool {
		return secondaries[i].Before(secondaries[j])
	})

	emails := newOrderedSet(primary.Email)
	phoneNumbers := newOrderedSet(primary.PhoneNumber)
	secondaryContactIDs := make([]int64, 0, len(secondaries))
	for _, c := range secondaries {
		emails.add(c.Email)
		phoneNumbers.add(c.PhoneNumber)
		secondaryContactIDs = append(secondaryContactIDs, c.ID)
	}

	return &models.IdentifyResponse{
		Contact: models.ContactResponse{
			PrimaryContactID:    primaryID,
			Emails:              emails.values,
			PhoneNumbers:        phoneNumbers.values,
			SecondaryContactIDs: secondaryContactIDs,
		},
	}, nil
}

// orderedSet keeps first-seen order.
type orderedSet struct {
	seen   map[string]struct{}
	values []string
}

func newOrderedSet(first *string) *orderedSet {
	s := &orderedSet{seen: make(map[string]struct{}), values: []string{}}
	s.add(first)
	return s
}

func (s *orderedSet) add(v *string) {
	if v == nil || *v == "" {
		return
	}
	if _, ok := s.seen[*v]; ok {
		return
	}
	s.seen[*v] = struct{}{}
	s.values = append(s.values, *v)
}

func (s *orderedSet) contains(v string) bool {
	_, ok := s.seen[v]
	return ok
}
