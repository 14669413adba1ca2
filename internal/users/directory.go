// Package users resolves sync-service logins to canonical owner identities.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultProvider = "default"

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")

	errMissingDatabase = errors.New("users: database connection required")
)

// DirectoryConfig describes the dependencies required for identity resolution.
type DirectoryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Directory persists identities and caches provider+subject lookups.
type Directory struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// NewDirectory constructs the identity directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// Resolve returns the identity for the access claims, creating it on first
// sight and refreshing the profile fields afterwards.
func (d *Directory) Resolve(ctx context.Context, claims auth.AccessClaims) (Identity, error) {
	provider, subject := deriveProviderSubject(claims)
	if subject == "" {
		return Identity{}, ErrInvalidIdentity
	}
	cacheKey := provider + ":" + subject

	var identity Identity
	err := d.db.WithContext(ctx).
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.Name),
			LastSeenAt:  d.now().UTC(),
		}
		if err := d.db.WithContext(ctx).Create(&identity).Error; err != nil {
			return Identity{}, fmt.Errorf("users: create identity: %w", err)
		}
	case err != nil:
		return Identity{}, fmt.Errorf("users: lookup identity: %w", err)
	default:
		updates := map[string]interface{}{"last_seen_at": d.now().UTC()}
		if email := normalize(claims.Email); email != "" && email != identity.Email {
			updates["user_email"] = email
			identity.Email = email
		}
		if display := normalize(claims.Name); display != "" && display != identity.DisplayName {
			updates["user_display_name"] = display
			identity.DisplayName = display
		}
		identity.LastSeenAt = updates["last_seen_at"].(time.Time)
		if err := d.db.WithContext(ctx).Model(&Identity{}).
			Where("provider = ? AND subject = ?", provider, subject).
			Updates(updates).
			Error; err != nil {
			d.logger.Warn("failed to refresh identity profile",
				zap.String("provider", provider),
				zap.String("subject", subject),
				zap.Error(err))
		}
	}

	d.cache.Store(cacheKey, identity.UserID)
	return identity, nil
}

// CanonicalUserID returns a cached canonical id for a previously resolved login.
func (d *Directory) CanonicalUserID(claims auth.AccessClaims) (string, bool) {
	provider, subject := deriveProviderSubject(claims)
	cached, ok := d.cache.Load(provider + ":" + subject)
	if !ok {
		return "", false
	}
	userID, ok := cached.(string)
	return userID, ok
}

// deriveProviderSubject splits "provider:subject" user ids; plain ids fall
// back to the default provider and the email is the last resort.
func deriveProviderSubject(claims auth.AccessClaims) (string, string) {
	provider := defaultProvider
	subject := normalize(claims.Subject)

	raw := normalize(claims.UserID)
	if raw != "" {
		if strings.Contains(raw, ":") {
			segments := strings.SplitN(raw, ":", 2)
			if normalize(segments[0]) != "" && normalize(segments[1]) != "" {
				provider = normalize(segments[0])
				subject = normalize(segments[1])
			}
		} else if subject == "" {
			subject = raw
		}
	}

	if subject == "" {
		subject = normalize(claims.Email)
	}
	return provider, subject
}
