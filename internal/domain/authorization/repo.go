package authorization

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Authorization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Authorization, error)
	GetByNumber(ctx context.Context, number string) (*Authorization, error)
	Update(ctx context.Context, a *Authorization) error
	ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Authorization, error)
}
