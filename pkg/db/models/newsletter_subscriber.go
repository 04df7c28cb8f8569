package models

import (
	"time"

	"github.com/google/uuid"
)

// NewsletterSubscriber holds one opted-in email address.
type NewsletterSubscriber struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email     string    `gorm:"column:email;not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
