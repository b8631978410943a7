package campaign

import (
	"context"

	"github.com/google/uuid"

	"github.com/ignite/outreach/internal/pkg/logger"
)

// SuppressionLookup is the store surface the filter needs.
type SuppressionLookup interface {
	SuppressedSubset(ctx context.Context, orgID uuid.UUID, emails []string) (map[string]bool, error)
}

// SuppressionFilter partitions a contact list against the tenant's
// do-not-contact set before any message is created.
type SuppressionFilter struct {
	store SuppressionLookup
}

// NewSuppressionFilter creates a suppression filter backed by the given store.
func NewSuppressionFilter(store SuppressionLookup) *SuppressionFilter {
	return &SuppressionFilter{store: store}
}

// Partition splits contacts into sendable and blocked using one batch lookup.
// Partial suppression is logged, not an error; the caller decides whether an
// empty allowed set is fatal.
func (f *SuppressionFilter) Partition(ctx context.Context, orgID uuid.UUID, contacts []Contact) (allowed, blocked []Contact, err error) {
	if len(contacts) == 0 {
		return nil, nil, nil
	}

	emails := make([]string, len(contacts))
	for i, c := range contacts {
		emails[i] = c.Email
	}

	suppressed, err := f.store.SuppressedSubset(ctx, orgID, emails)
	if err != nil {
		return nil, nil, err
	}

	for _, c := range contacts {
		if suppressed[NormalizeEmail(c.Email)] {
			blocked = append(blocked, c)
		} else {
			allowed = append(allowed, c)
		}
	}

	if len(blocked) > 0 {
		logger.Info("suppression filter blocked contacts",
			"org_id", orgID.String(),
			"blocked", len(blocked),
			"allowed", len(allowed))
	}
	return allowed, blocked, nil
}
