package contact

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"sendloop-engine/pkg/repository"
)

var Module = fx.Module("contact.service",
	fx.Provide(NewResolver),
)

// Resolver answers audience questions for the launch path.
type Resolver struct {
	contacts repository.Repository[Contact]
}

type ResolverParams struct {
	fx.In
	DB *gorm.DB
}

func NewResolver(p ResolverParams) *Resolver {
	return &Resolver{
		contacts: repository.ProvideStore[Contact](p.DB),
	}
}

func (r *Resolver) CountSegment(ctx context.Context, tenantID, segmentID string) (int64, error) {
	return r.contacts.Count(ctx, &Contact{TenantID: tenantID, SegmentID: segmentID})
}

func (r *Resolver) SegmentRecipients(ctx context.Context, tenantID, segmentID string) ([]string, error) {
	contacts, err := r.contacts.Find(ctx, &Contact{TenantID: tenantID, SegmentID: segmentID})
	if err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(contacts))
	for _, c := range contacts {
		recipients = append(recipients, c.Phone)
	}
	return recipients, nil
}
