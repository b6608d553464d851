package identity

import "context"

// UserStore describes persistence operations required by the identity service.
// Implementations return copies; in-flight users are values, never shared
// references.
type UserStore interface {
	// Create inserts a new user. ErrAlreadyExists when the username or email
	// is taken.
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	// Update saves the user with optimistic concurrency on Version.
	// ErrVersionConflict when the stored version no longer matches.
	Update(ctx context.Context, u *User) error
}
