package escalation

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, esc *Escalation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Escalation, error)
	Update(ctx context.Context, esc *Escalation) error
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Escalation, error)
	ListOpen(ctx context.Context, limit, offset int) ([]*Escalation, int, error)
	OpenExistsForReferral(ctx context.Context, referralID uuid.UUID, reason string) (bool, error)
}
