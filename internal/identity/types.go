package identity

import "time"

// AccountStatus summarizes whether an account may authenticate.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusDisabled AccountStatus = "disabled"
	StatusLocked   AccountStatus = "locked"
)

// maxFailedLogins is the attempt count at which an account stops being valid
// for orders and gets locked.
const maxFailedLogins = 5

// User is the directory entity behind every principal.
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	FirstName           string
	LastName            string
	Phone               string
	Roles               []string
	Active              bool
	EmailVerified       bool
	FailedLoginAttempts int
	LockedUntil         *time.Time
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ValidForOrder reports whether the Order Service may accept orders for this
// user: active, email verified, and fewer than five failed login attempts.
func (u *User) ValidForOrder() bool {
	return u.Active && u.EmailVerified && u.FailedLoginAttempts < maxFailedLogins
}

// LockedAt reports whether the account is locked at the given instant.
func (u *User) LockedAt(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// StatusAt derives the account status at the given instant.
func (u *User) StatusAt(now time.Time) AccountStatus {
	switch {
	case u.LockedAt(now):
		return StatusLocked
	case !u.Active:
		return StatusDisabled
	default:
		return StatusActive
	}
}
