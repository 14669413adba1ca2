package users

import (
	"strings"
	"time"
)

// Identity maps a sync-service login to the canonical owner id stamped on canvases.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null" json:"provider"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null" json:"subject"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Email       string    `gorm:"column:user_email;size:320" json:"email"`
	DisplayName string    `gorm:"column:user_display_name;size:320" json:"name,omitempty"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"-"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
