// Package subscriptions maps the purchase channel's active products onto entitlement tiers.
package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/intentions/internal/entitlement"
	"github.com/MarcoPoloResearchLab/intentions/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingStatuses = errors.New("status store is required")
	errMissingUser     = errors.New("user id is required")
)

// ServiceError carries a dotted operation.reason code and the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "subscriptions.service.new"
	opRecord       = "subscriptions.record"
	opCurrentTier  = "subscriptions.current_tier"
	opSnapshot     = "subscriptions.snapshot"
	logMessageFail = "subscriptions service error"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// EntitlementRecord is the last product list reported for a user.
type EntitlementRecord struct {
	UserID         string `gorm:"column:user_id;primaryKey;size:190"`
	ProductIDsJSON string `gorm:"column:product_ids_json;type:text;not null"`
	ReportedAtUnix int64  `gorm:"column:reported_at_s;not null"`
}

// TableName exposes the table backing entitlement reports.
func (EntitlementRecord) TableName() string {
	return "subscription_entitlements"
}

// StatusStore persists the subscription status on the account.
type StatusStore interface {
	SubscriptionStatus(ctx context.Context, userID string) (users.SubscriptionStatus, error)
	SetSubscriptionStatus(ctx context.Context, userID string, status users.SubscriptionStatus) error
}

// TierPublisher is told when a user's tier changes.
type TierPublisher interface {
	PublishTierChanged(userID, tier string)
}

// ServiceConfig wires the subscription service.
type ServiceConfig struct {
	Database         *gorm.DB
	Statuses         StatusStore
	Events           TierPublisher
	PremiumProductID string
	Clock            func() time.Time
	Logger           *zap.Logger
}

// Snapshot describes a user's entitlement at one instant.
type Snapshot struct {
	Tier       entitlement.Tier   `json:"tier"`
	Limits     entitlement.Limits `json:"limits"`
	ProductIDs []string           `json:"productIds"`
	ReportedAt *time.Time         `json:"reportedAt,omitempty"`
}

// Service resolves tiers. Nothing is cached: every lookup reads storage.
type Service struct {
	db        *gorm.DB
	statuses  StatusStore
	events    TierPublisher
	productID string
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService validates cfg.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Statuses == nil {
		return nil, newServiceError(opServiceNew, "missing_statuses", errMissingStatuses)
	}
	productID := strings.TrimSpace(cfg.PremiumProductID)
	if productID == "" {
		productID = entitlement.DefaultPremiumProductID
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        cfg.Database,
		statuses:  cfg.Statuses,
		events:    cfg.Events,
		productID: productID,
		clock:     clock,
		logger:    logger,
	}, nil
}

// RecordEntitlements stores the active products reported for userID, persists the derived
// status and publishes a tier change when it differs from the previous tier.
func (s *Service) RecordEntitlements(ctx context.Context, userID string, productIDs []string) (Snapshot, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Snapshot{}, newServiceError(opRecord, "missing_user", errMissingUser)
	}
	previous, err := s.CurrentTier(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}

	products := normalizeProducts(productIDs)
	encoded, err := json.Marshal(products)
	if err != nil {
		return Snapshot{}, newServiceError(opRecord, "encode_failed", err)
	}
	reportedAt := s.clock().UTC()
	record := EntitlementRecord{UserID: userID, ProductIDsJSON: string(encoded), ReportedAtUnix: reportedAt.Unix()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"product_ids_json", "reported_at_s"}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opRecord, "write_failed", err, zap.String("user_id", userID))
		return Snapshot{}, newServiceError(opRecord, "write_failed", err)
	}

	tier := entitlement.TierForProducts(products, s.productID)
	if err := s.statuses.SetSubscriptionStatus(ctx, userID, users.SubscriptionStatus(tier.String())); err != nil {
		s.logError(opRecord, "status_write_failed", err, zap.String("user_id", userID))
		return Snapshot{}, newServiceError(opRecord, "status_write_failed", err)
	}
	if tier != previous && s.events != nil {
		s.events.PublishTierChanged(userID, tier.String())
	}
	s.logger.Info("entitlements recorded",
		zap.String("user_id", userID),
		zap.String("tier", tier.String()),
		zap.Int("products", len(products)),
	)
	truncated := time.Unix(reportedAt.Unix(), 0).UTC()
	return Snapshot{Tier: tier, Limits: entitlement.LimitsFor(tier), ProductIDs: products, ReportedAt: &truncated}, nil
}

// CurrentTier returns premium when the last report lists the premium product and otherwise
// falls back to the persisted subscription status.
func (s *Service) CurrentTier(ctx context.Context, userID string) (entitlement.Tier, error) {
	products, _, err := s.products(ctx, userID)
	if err != nil {
		s.logError(opCurrentTier, "read_failed", err, zap.String("user_id", userID))
		return "", newServiceError(opCurrentTier, "read_failed", err)
	}
	if entitlement.TierForProducts(products, s.productID) == entitlement.TierPremium {
		return entitlement.TierPremium, nil
	}
	status, err := s.statuses.SubscriptionStatus(ctx, userID)
	if err != nil {
		s.logError(opCurrentTier, "status_read_failed", err, zap.String("user_id", userID))
		return "", newServiceError(opCurrentTier, "status_read_failed", err)
	}
	return entitlement.ParseTier(string(status)), nil
}

// Snapshot reports the user's tier, limits and last reported products.
func (s *Service) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	tier, err := s.CurrentTier(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	products, reportedAt, err := s.products(ctx, userID)
	if err != nil {
		return Snapshot{}, newServiceError(opSnapshot, "read_failed", err)
	}
	return Snapshot{Tier: tier, Limits: entitlement.LimitsFor(tier), ProductIDs: products, ReportedAt: reportedAt}, nil
}

// TierSource binds CurrentTier to userID.
func (s *Service) TierSource(userID string) entitlement.TierSource {
	return entitlement.TierSourceFunc(func(ctx context.Context) (entitlement.Tier, error) {
		return s.CurrentTier(ctx, userID)
	})
}

func (s *Service) products(ctx context.Context, userID string) ([]string, *time.Time, error) {
	var record EntitlementRecord
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []string{}, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var products []string
	if err := json.Unmarshal([]byte(record.ProductIDsJSON), &products); err != nil {
		s.logger.Warn("discarding corrupt entitlement record", zap.String("user_id", userID), zap.Error(err))
		return []string{}, nil, nil
	}
	reportedAt := time.Unix(record.ReportedAtUnix, 0).UTC()
	return products, &reportedAt, nil
}

func normalizeProducts(productIDs []string) []string {
	seen := make(map[string]struct{}, len(productIDs))
	products := make([]string, 0, len(productIDs))
	for _, productID := range productIDs {
		trimmed := strings.TrimSpace(productID)
		if trimmed == "" {
			continue
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		products = append(products, trimmed)
	}
	sort.Strings(products)
	return products
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	logFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error(logMessageFail, logFields...)
}
