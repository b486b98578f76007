package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/buildgate/buildgate/internal/models"
)

// Service renders lifecycle messages and hands them to the dispatcher.
type Service struct {
	dispatcher *Dispatcher
	templates  *Templates
	// baseURL is the externally reachable address used in activation
	// links, without a trailing slash.
	baseURL    string
	windowDays int
}

// NewService creates a mail service. windowDays is the activation window
// shown to new registrants.
func NewService(dispatcher *Dispatcher, baseURL string, windowDays int) (*Service, error) {
	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("load mail templates: %w", err)
	}
	return &Service{
		dispatcher: dispatcher,
		templates:  templates,
		baseURL:    strings.TrimRight(baseURL, "/"),
		windowDays: windowDays,
	}, nil
}

func (s *Service) send(ctx context.Context, to []string, subject, kind string, data any) error {
	plain, html, err := s.templates.Render(kind, data)
	if err != nil {
		return fmt.Errorf("render %s: %w", kind, err)
	}
	return s.dispatcher.Dispatch(ctx, &Message{
		To:        to,
		Subject:   subject,
		PlainBody: plain,
		HTMLBody:  html,
	})
}

// SendActivation mails the activation link to a new registrant.
func (s *Service) SendActivation(ctx context.Context, account *models.Account, activationKey string) error {
	return s.send(ctx, []string{account.Email},
		"Confirm your registration", "activation", map[string]any{
			"Name":          account.FullName(),
			"WindowDays":    s.windowDays,
			"ActivationURL": fmt.Sprintf("%s/activate/%s", s.baseURL, activationKey),
		})
}

// SendApprovalRequest notifies staff that an account awaits approval.
func (s *Service) SendApprovalRequest(ctx context.Context, staffEmails []string, account *models.Account) error {
	return s.send(ctx, staffEmails,
		fmt.Sprintf("Account %s awaits approval", account.Username),
		"approval_request", map[string]any{
			"Username": account.Username,
			"Name":     account.FullName(),
			"Email":    account.Email,
		})
}

// SendAccountApproved tells the holder their account is usable.
func (s *Service) SendAccountApproved(ctx context.Context, account *models.Account) error {
	return s.send(ctx, []string{account.Email},
		"Your account has been approved", "account_approved", map[string]any{
			"Name":     account.FullName(),
			"Username": account.Username,
		})
}

// SendAccountRejected tells the holder their registration was declined.
// Sent before the account row is removed.
func (s *Service) SendAccountRejected(ctx context.Context, account *models.Account) error {
	return s.send(ctx, []string{account.Email},
		"Your registration has been declined", "account_rejected", map[string]any{
			"Name":     account.FullName(),
			"Username": account.Username,
		})
}

// SendProjectPending notifies staff that a project awaits review.
func (s *Service) SendProjectPending(ctx context.Context, staffEmails []string, project *models.Project, owner *models.Account) error {
	return s.send(ctx, staffEmails,
		fmt.Sprintf("Project %s awaits review", project.Name),
		"project_pending", map[string]any{
			"ProjectName": project.Name,
			"OwnerName":   owner.FullName(),
		})
}

// SendProjectApproved tells the owner their project is active.
func (s *Service) SendProjectApproved(ctx context.Context, owner *models.Account, project *models.Project) error {
	return s.send(ctx, []string{owner.Email},
		fmt.Sprintf("Project %s approved", project.Name),
		"project_approved", map[string]any{
			"ProjectName": project.Name,
			"OwnerName":   owner.FullName(),
		})
}

// SendProjectRejected tells the owner their project was declined.
func (s *Service) SendProjectRejected(ctx context.Context, owner *models.Account, project *models.Project) error {
	return s.send(ctx, []string{owner.Email},
		fmt.Sprintf("Project %s declined", project.Name),
		"project_rejected", map[string]any{
			"ProjectName": project.Name,
			"OwnerName":   owner.FullName(),
		})
}
