package pms

import (
	"context"
	"time"
)

// Tokens represents the persisted PMS credentials
type Tokens struct {
	RefreshToken         string
	AccessToken          string
	AccessTokenExpiresAt *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TokenStorage defines the interface for PMS token persistence
// This interface is implemented by the storage layer to avoid tight coupling
type TokenStorage interface {
	GetPMSTokens(ctx context.Context) (*Tokens, error)
	SavePMSTokens(ctx context.Context, tokens *Tokens) error
}
