package identity

import "errors"

var (
	ErrNotFound        = errors.New("identity: not found")
	ErrAlreadyExists   = errors.New("identity: already exists")
	ErrInvalidInput    = errors.New("identity: invalid input")
	ErrUnknownSubject  = errors.New("identity: unknown subject")
	ErrAccountDisabled = errors.New("identity: account disabled")
	ErrAccountLocked   = errors.New("identity: account locked")
	ErrBadCredentials  = errors.New("identity: bad credentials")
	ErrVersionConflict = errors.New("identity: version conflict")
)
