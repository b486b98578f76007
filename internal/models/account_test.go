package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewAccount(t *testing.T) {
	account := NewAccount("alice", "alice@example.com", "Alice", "Ada")

	// The ID must be usable as a primary key straight away
	if account.ID == "" {
		t.Fatal("NewAccount left the ID empty")
	}
	if _, err := uuid.Parse(account.ID); err != nil {
		t.Errorf("ID %q is not a uuid: %v", account.ID, err)
	}

	other := NewAccount("bob", "bob@example.com", "Bob", "Byte")
	if other.ID == account.ID {
		t.Error("two accounts share an ID")
	}

	if account.State != StatePendingConfirm {
		t.Errorf("State = %q, want %s", account.State, StatePendingConfirm)
	}
	if account.HasUsableCredential() {
		t.Error("new account must not have a usable credential")
	}
	if account.DateJoined.IsZero() || account.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}
