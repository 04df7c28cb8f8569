package newsletter

import (
	"context"
	"fmt"
	"strings"

	"github.com/velora-commerce/storefront-backend/internal/notifications"
	"github.com/velora-commerce/storefront-backend/pkg/db"
	"github.com/velora-commerce/storefront-backend/pkg/db/models"
	pkgerrors "github.com/velora-commerce/storefront-backend/pkg/errors"
)

// Service manages newsletter subscriptions.
type Service interface {
	Subscribe(ctx context.Context, email string) error
	Unsubscribe(ctx context.Context, email string) error
}

type subscriberRepo interface {
	Subscribe(ctx context.Context, email string) (*models.NewsletterSubscriber, error)
	Unsubscribe(ctx context.Context, email string) (bool, error)
}

type service struct {
	repo     subscriberRepo
	notifier notifications.Sink
}

// NewService builds the newsletter service. A nil notifier falls back to
// the no-op sink.
func NewService(repo subscriberRepo, notifier notifications.Sink) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("subscriber repository is required")
	}
	if notifier == nil {
		notifier = notifications.NoopSink{}
	}
	return &service{repo: repo, notifier: notifier}, nil
}

// Subscribe records the opt-in. Re-subscribing an existing address is a
// quiet success; the welcome mail is best-effort.
func (s *service) Subscribe(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	if _, err := s.repo.Subscribe(ctx, normalized); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store subscription")
	}

	_ = s.notifier.SendNewsletterWelcome(ctx, normalized)
	return nil
}

// Unsubscribe drops the opt-in if present.
func (s *service) Unsubscribe(ctx context.Context, email string) error {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	found, err := s.repo.Unsubscribe(ctx, normalized)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove subscription")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "email is not subscribed")
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || !strings.Contains(normalized, "@") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "a valid email is required")
	}
	return normalized, nil
}
