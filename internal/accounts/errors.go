package accounts

import (
	"errors"
	"fmt"
)

var (
	// ErrUsernameTaken is returned when the requested username exists.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailTaken is returned when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
	// ErrIdentityBound is returned when the external identity is already
	// linked to an account, including when a concurrent federated
	// registration won the race.
	ErrIdentityBound = errors.New("identity already registered")
	// ErrInvalidKey covers malformed, unknown, expired and replayed
	// activation keys. Callers cannot distinguish these cases.
	ErrInvalidKey = errors.New("invalid activation key")
	// ErrNotFound is returned when the account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrNotPending is returned when approval is attempted on an account
	// that is not awaiting it.
	ErrNotPending = errors.New("account is not awaiting approval")
)

// OwnsProjectsError blocks deletion or rejection of an account that still
// owns projects.
type OwnsProjectsError struct {
	Count int64
}

func (e *OwnsProjectsError) Error() string {
	if e.Count == 1 {
		return "account is the owner of 1 project"
	}
	return fmt.Sprintf("account is the owner of %d projects", e.Count)
}
