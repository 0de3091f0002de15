package users

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/daybook-labs/daybook/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrProfileNotFound indicates no identity record exists for the user id.
	ErrProfileNotFound = errors.New("users: profile not found")
)

// ServiceConfig describes the dependencies required for user identity resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service manages canonical user identifiers and provider-specific identities.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// ResolveCanonicalUserID returns the canonical Daybook user id for the verified claims.
// It creates a new identity mapping when the provider+subject pair has not been seen before.
func (s *Service) ResolveCanonicalUserID(claims auth.IdentityClaims) (string, error) {
	provider := deriveProvider(claims.Issuer)
	subject := normalize(claims.Subject)
	if subject == "" {
		return "", ErrInvalidIdentity
	}

	cacheKey := provider + ":" + subject
	if cachedIdentifier, ok := s.cache.Load(cacheKey); ok {
		canonicalIdentifier, ok := cachedIdentifier.(string)
		if ok {
			// The cache only short-circuits the id lookup; each login
			// still carries the freshest profile fields into the row.
			s.refreshProfile(provider, subject, claims)
			return canonicalIdentifier, nil
		}
	}

	var identity Identity
	err := s.db.
		Where("provider = ? AND subject = ?", provider, subject).
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		identity = Identity{
			Provider:    provider,
			Subject:     subject,
			UserID:      subject,
			Email:       normalize(claims.Email),
			DisplayName: normalize(claims.DisplayName),
			AvatarURL:   normalize(claims.AvatarURL),
			LastSeenAt:  s.now(),
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else {
		s.refreshProfile(provider, subject, claims)
	}

	s.cache.Store(cacheKey, identity.UserID)
	return identity.UserID, nil
}

// refreshProfile folds non-empty claim fields into the identity row and
// advances last_seen_at. Best effort: a failed refresh never blocks login.
func (s *Service) refreshProfile(provider, subject string, claims auth.IdentityClaims) {
	updates := map[string]interface{}{"last_seen_at": s.now()}
	if email := normalize(claims.Email); email != "" {
		updates["user_email"] = email
	}
	if display := normalize(claims.DisplayName); display != "" {
		updates["user_display_name"] = display
	}
	if avatar := normalize(claims.AvatarURL); avatar != "" {
		updates["user_avatar_url"] = avatar
	}
	_ = s.db.Model(&Identity{}).
		Where("provider = ? AND subject = ?", provider, subject).
		Updates(updates).
		Error
}

// GetProfile returns the user-facing profile for the canonical user id.
func (s *Service) GetProfile(userID string) (Profile, error) {
	identifier := normalize(userID)
	if identifier == "" {
		return Profile{}, ErrInvalidIdentity
	}

	var identity Identity
	err := s.db.
		Where("user_id = ?", identifier).
		Order("last_seen_at DESC").
		First(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}

	return Profile{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
	}, nil
}

// UpdateProfile replaces the mutable profile fields for the canonical user id.
func (s *Service) UpdateProfile(userID, displayName string) (Profile, error) {
	identifier := normalize(userID)
	if identifier == "" {
		return Profile{}, ErrInvalidIdentity
	}
	display := normalize(displayName)
	if display == "" {
		return Profile{}, ErrInvalidIdentity
	}

	result := s.db.Model(&Identity{}).
		Where("user_id = ?", identifier).
		Updates(map[string]interface{}{
			"user_display_name": display,
			"updated_at":        s.now(),
		})
	if result.Error != nil {
		return Profile{}, result.Error
	}
	if result.RowsAffected == 0 {
		return Profile{}, ErrProfileNotFound
	}

	return s.GetProfile(identifier)
}

func deriveProvider(issuer string) string {
	trimmed := normalize(issuer)
	trimmed = strings.TrimPrefix(trimmed, "https://")
	trimmed = strings.TrimPrefix(trimmed, "http://")
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return "default"
	}
	return trimmed
}
