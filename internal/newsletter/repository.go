package newsletter

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/velora-commerce/storefront-backend/pkg/db/models"
)

// Repository persists newsletter opt-ins.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Subscribe inserts the email. The unique index on email surfaces repeat
// subscriptions as a constraint error.
func (r *Repository) Subscribe(ctx context.Context, email string) (*models.NewsletterSubscriber, error) {
	sub := &models.NewsletterSubscriber{ID: uuid.New(), Email: email}
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes the email and reports whether a row existed.
func (r *Repository) Unsubscribe(ctx context.Context, email string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("email = ?", email).
		Delete(&models.NewsletterSubscriber{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
