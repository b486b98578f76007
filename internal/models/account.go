package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountState tracks where an account is in its lifecycle.
//
// Two independent gates exist before an account becomes usable: the holder
// must confirm their email (activation key) and staff must approve the
// account. The state is stored explicitly rather than derived from flag
// combinations.
type AccountState string

const (
	// StatePendingConfirm: registered, activation key not yet used.
	StatePendingConfirm AccountState = "pending_confirm"
	// StatePendingApproval: email confirmed, waiting for staff approval.
	StatePendingApproval AccountState = "pending_approval"
	// StateActive: approved by staff, account is usable.
	StateActive AccountState = "active"
	// StateDeleted: logically deleted. The row is kept so project
	// ownership history survives.
	StateDeleted AccountState = "deleted"
)

// Account represents a user account.
type Account struct {
	ID        string       `json:"id"`
	Username  string       `json:"username"`
	Email     string       `json:"email"`
	FirstName string       `json:"first_name"`
	LastName  string       `json:"last_name"`
	// PasswordHash is empty for federated accounts, which carry an
	// unusable local credential on purpose.
	PasswordHash string       `json:"-"`
	State        AccountState `json:"state"`
	Staff        bool         `json:"staff"`
	Superuser    bool         `json:"superuser"`
	DateJoined   time.Time    `json:"date_joined"`
	LastLogin    *time.Time   `json:"last_login,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// NewAccount creates an Account in the pending_confirm state.
func NewAccount(username, email, firstName, lastName string) *Account {
	now := time.Now()
	return &Account{
		ID:         uuid.New().String(),
		Username:   username,
		Email:      email,
		FirstName:  firstName,
		LastName:   lastName,
		State:      StatePendingConfirm,
		DateJoined: now,
		UpdatedAt:  now,
	}
}

// IsActive returns true if the account has been staff-approved and not
// deleted.
func (a *Account) IsActive() bool {
	return a.State == StateActive
}

// HasUsableCredential returns true if the account can authenticate with a
// local password.
func (a *Account) HasUsableCredential() bool {
	return a.PasswordHash != ""
}

// FullName returns "First Last", falling back to the username.
func (a *Account) FullName() string {
	if a.FirstName == "" && a.LastName == "" {
		return a.Username
	}
	return a.FirstName + " " + a.LastName
}

// ParseAccountState converts a string to an AccountState.
func ParseAccountState(s string) AccountState {
	switch AccountState(s) {
	case StatePendingConfirm, StatePendingApproval, StateActive, StateDeleted:
		return AccountState(s)
	default:
		return StatePendingConfirm
	}
}

// FederatedIdentity binds an externally-asserted persistent identifier to a
// local account, one-to-one.
type FederatedIdentity struct {
	AccountID  string    `json:"account_id"`
	ExternalID string    `json:"external_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Matches reports whether the identity is consistent with the account it is
// linked to. The federated flow requires username == external id; anything
// else means the invariant is broken.
func (f *FederatedIdentity) Matches(a *Account) bool {
	return f.AccountID == a.ID && f.ExternalID == a.Username
}
