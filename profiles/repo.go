package profiles

import "context"

// Repo defines the interface for profile storage operations.
type Repo interface {
	// GetByID retrieves the profile for an identity-provider user ID.
	// Returns errors.ErrProfileNotFound when no row exists.
	GetByID(ctx context.Context, userID string) (*Profile, error)

	// Update merges the non-zero fields of changes into the stored profile
	// and returns the updated row.
	Update(ctx context.Context, userID string, changes Profile) (*Profile, error)
}
