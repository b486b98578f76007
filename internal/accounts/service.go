// Package accounts implements the account lifecycle: registration, email
// confirmation, staff approval and deletion.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/buildgate/buildgate/internal/metrics"
	"github.com/buildgate/buildgate/internal/models"
	"github.com/buildgate/buildgate/internal/storage"
)

// MailSender delivers lifecycle email. Delivery failures do not abort the
// operation that triggered them.
type MailSender interface {
	SendActivation(ctx context.Context, account *models.Account, activationKey string) error
	SendApprovalRequest(ctx context.Context, staffEmails []string, account *models.Account) error
	SendAccountApproved(ctx context.Context, account *models.Account) error
	SendAccountRejected(ctx context.Context, account *models.Account) error
}

// Service drives account state transitions.
type Service struct {
	store storage.Storage
	mail  MailSender
	// window is how long a fresh activation key stays usable.
	window time.Duration
}

// NewService creates an account service.
func NewService(store storage.Storage, mail MailSender, activationWindow time.Duration) *Service {
	return &Service{
		store:  store,
		mail:   mail,
		window: activationWindow,
	}
}

// Register creates a self-service account in the pending_confirm state and
// mails the activation link.
func (s *Service) Register(ctx context.Context, username, email, firstName, lastName, password string) (*models.Account, error) {
	existing, err := s.store.Accounts().GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	existing, err = s.store.Accounts().GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	account := models.NewAccount(username, email, firstName, lastName)
	account.PasswordHash = string(hash)

	if err := s.store.Accounts().Create(ctx, account); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	reg, err := models.NewRegistration(account.ID, s.window)
	if err != nil {
		return nil, fmt.Errorf("create activation key: %w", err)
	}
	if err := s.store.Registrations().Create(ctx, reg); err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}

	s.sendMail("activation", s.mail.SendActivation(ctx, account, reg.ActivationKey))
	metrics.AccountsRegistered.WithLabelValues("local").Inc()
	return account, nil
}

// RegisterFederated creates an account for an externally asserted identity.
// The username is the external id and the local credential is unusable. The
// account still goes through email confirmation and staff approval.
func (s *Service) RegisterFederated(ctx context.Context, externalID, email, firstName, lastName string) (*models.Account, error) {
	identity, err := s.store.Identities().GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("check identity: %w", err)
	}
	if identity != nil {
		return nil, ErrIdentityBound
	}

	account := models.NewAccount(externalID, email, firstName, lastName)

	created, err := s.store.Accounts().CreateIfAbsent(ctx, account)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create account: %w", err)
	}
	if !created {
		// Lost a concurrent registration race, or the username is
		// already held by a local account.
		return nil, ErrIdentityBound
	}

	link := &models.FederatedIdentity{
		AccountID:  account.ID,
		ExternalID: externalID,
		CreatedAt:  time.Now(),
	}
	if err := s.store.Identities().Create(ctx, link); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrIdentityBound
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}

	reg, err := models.NewRegistration(account.ID, s.window)
	if err != nil {
		return nil, fmt.Errorf("create activation key: %w", err)
	}
	if err := s.store.Registrations().Create(ctx, reg); err != nil {
		return nil, fmt.Errorf("create registration: %w", err)
	}

	s.sendMail("activation", s.mail.SendActivation(ctx, account, reg.ActivationKey))
	metrics.AccountsRegistered.WithLabelValues("federated").Inc()
	return account, nil
}

// Activate confirms an email address with the given activation key.
//
// A malformed, unknown or expired key fails with ErrInvalidKey. Replaying
// an already-used key succeeds only while the account is active; it never
// resurrects a deactivated account.
func (s *Service) Activate(ctx context.Context, key string) (*models.Account, error) {
	if !models.ValidActivationKey(key) {
		return nil, ErrInvalidKey
	}

	reg, err := s.store.Registrations().GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("look up activation key: %w", err)
	}
	if reg == nil {
		return nil, ErrInvalidKey
	}

	account, err := s.store.Accounts().GetByID(ctx, reg.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, ErrInvalidKey
	}

	if reg.Activated {
		if account.IsActive() {
			return account, nil
		}
		return nil, ErrInvalidKey
	}
	if reg.IsExpired() {
		return nil, ErrInvalidKey
	}

	if err := s.store.Registrations().MarkActivated(ctx, account.ID); err != nil {
		return nil, fmt.Errorf("mark activated: %w", err)
	}
	account.State = models.StatePendingApproval
	account.UpdatedAt = time.Now()
	if err := s.store.Accounts().Update(ctx, account); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	staff, err := s.store.Accounts().StaffEmails(ctx)
	if err != nil {
		log.Printf("WARN: list staff emails: %v", err)
	} else {
		s.sendMail("approval request", s.mail.SendApprovalRequest(ctx, staff, account))
	}

	metrics.AccountsActivated.Inc()
	return account, nil
}

// Approve transitions a pending_approval account to active.
func (s *Service) Approve(ctx context.Context, accountID string) (*models.Account, error) {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, ErrNotFound
	}
	if account.State != models.StatePendingApproval {
		return nil, ErrNotPending
	}

	account.State = models.StateActive
	account.UpdatedAt = time.Now()
	if err := s.store.Accounts().Update(ctx, account); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}

	s.sendMail("account approved", s.mail.SendAccountApproved(ctx, account))
	metrics.AccountsApproved.Inc()
	return account, nil
}

// Reject notifies the holder, then physically deletes the account and every
// dependent record. Accounts that own projects cannot be rejected.
func (s *Service) Reject(ctx context.Context, accountID string) error {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return ErrNotFound
	}

	owned, err := s.store.Projects().CountByOwner(ctx, accountID)
	if err != nil {
		return fmt.Errorf("count owned projects: %w", err)
	}
	if owned > 0 {
		return &OwnsProjectsError{Count: owned}
	}

	// The notice goes out before the address disappears.
	s.sendMail("account rejected", s.mail.SendAccountRejected(ctx, account))

	if err := s.store.Groups().ClearMemberships(ctx, accountID); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}
	if err := s.store.Accounts().Delete(ctx, accountID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}

	metrics.AccountsRejected.Inc()
	return nil
}

// LogicalDelete deactivates an account while keeping the row. Memberships,
// privileges, the registration, the identity link and any refresh tokens
// are removed. Accounts that own projects cannot be deleted.
func (s *Service) LogicalDelete(ctx context.Context, accountID string) error {
	account, err := s.store.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return ErrNotFound
	}

	owned, err := s.store.Projects().CountByOwner(ctx, accountID)
	if err != nil {
		return fmt.Errorf("count owned projects: %w", err)
	}
	if owned > 0 {
		return &OwnsProjectsError{Count: owned}
	}

	if err := s.store.Groups().ClearMemberships(ctx, accountID); err != nil {
		return fmt.Errorf("clear memberships: %w", err)
	}
	if err := s.store.Registrations().DeleteByAccount(ctx, accountID); err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if err := s.store.Identities().DeleteByAccount(ctx, accountID); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	if err := s.store.Tokens().RevokeAllForUser(ctx, accountID); err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}

	account.State = models.StateDeleted
	account.Staff = false
	account.Superuser = false
	account.UpdatedAt = time.Now()
	if err := s.store.Accounts().Update(ctx, account); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	metrics.AccountsDeleted.Inc()
	return nil
}

// CleanupExpired removes accounts whose activation key expired without ever
// being used. Returns the number of accounts removed.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	regs, err := s.store.Registrations().ListUnactivated(ctx)
	if err != nil {
		return 0, fmt.Errorf("list registrations: %w", err)
	}

	removed := 0
	for _, reg := range regs {
		if !reg.IsExpired() {
			continue
		}
		// Cascades take the registration and identity rows with it.
		if err := s.store.Accounts().Delete(ctx, reg.AccountID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("delete account %s: %w", reg.AccountID, err)
		}
		removed++
	}

	metrics.RegistrationsCleaned.Add(float64(removed))
	return removed, nil
}

// VerifyFederated resolves an external identity to its account and checks
// the link invariant (username == external id). Unknown identities return
// ErrNotFound; a broken link is an internal error.
func (s *Service) VerifyFederated(ctx context.Context, externalID string) (*models.Account, error) {
	identity, err := s.store.Identities().GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("look up identity: %w", err)
	}
	if identity == nil {
		return nil, ErrNotFound
	}

	account, err := s.store.Accounts().GetByID(ctx, identity.AccountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("identity %s: linked account missing", externalID)
	}
	if !identity.Matches(account) {
		return nil, fmt.Errorf("identity %s: link does not match account", externalID)
	}
	return account, nil
}

// sendMail records the outcome of a lifecycle mail attempt.
func (s *Service) sendMail(what string, err error) {
	if err != nil {
		log.Printf("WARN: send %s mail: %v", what, err)
		metrics.MailErrors.Inc()
		return
	}
	metrics.MailSentTotal.Inc()
}
