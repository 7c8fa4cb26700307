// Package store is the origin of record backed by a relational database.
// It serves the four origin RPCs directly from gorm.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/turtacn/apigateway/internal/config"
	"github.com/turtacn/apigateway/internal/domain/models"
	"github.com/turtacn/apigateway/internal/domain/service"
	"github.com/turtacn/apigateway/pkg/constants"
	"github.com/turtacn/apigateway/pkg/errors"
	"github.com/turtacn/apigateway/pkg/logger"
)

var _ service.OriginClient = (*Store)(nil)

// Open connects to the configured database and applies pool settings.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// Store implements service.OriginClient over gorm.
type Store struct {
	db     *gorm.DB
	logger logger.Logger
}

// New creates a new Store.
func New(db *gorm.DB, log logger.Logger) *Store {
	return &Store{db: db, logger: log.WithComponent("origin-store")}
}

// Migrate creates or updates the user, interface and grant tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&models.Principal{}, &models.RouteDescriptor{}, &models.QuotaRelation{})
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ResolveUserByAccessKey returns the principal owning accessKey, or nil.
func (s *Store) ResolveUserByAccessKey(ctx context.Context, accessKey string) (*models.Principal, error) {
	if accessKey == "" {
		return nil, nil
	}
	var p models.Principal
	if err := s.db.WithContext(ctx).Where("access_key = ?", accessKey).First(&p).Error; err != nil {
		return nil, notFoundAsNil(err)
	}
	return &p, nil
}

// ResolveRoute returns the interface registered under (fullURL, method), or nil.
func (s *Store) ResolveRoute(ctx context.Context, fullURL, method string) (*models.RouteDescriptor, error) {
	if fullURL == "" || method == "" {
		return nil, nil
	}
	var r models.RouteDescriptor
	err := s.db.WithContext(ctx).
		Where("url = ? AND method = ?", fullURL, models.NormalizeMethod(method)).
		First(&r).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &r, nil
}

// ResolveQuota returns the grant between userID and interfaceID, or nil.
func (s *Store) ResolveQuota(ctx context.Context, interfaceID, userID int64) (*models.QuotaRelation, error) {
	var q models.QuotaRelation
	err := s.db.WithContext(ctx).
		Where("interface_info_id = ? AND user_id = ?", interfaceID, userID).
		First(&q).Error
	if err != nil {
		return nil, notFoundAsNil(err)
	}
	return &q, nil
}

// RecordInvocation counts one call against the grant. The counter update is
// a single conditional statement, so concurrent calls on the same grant can
// never drive remaining calls below zero.
func (s *Store) RecordInvocation(ctx context.Context, interfaceID, userID int64) error {
	if interfaceID <= 0 || userID <= 0 {
		return errors.ErrNotFound
	}
	startTime := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.RouteDescriptor{}).Where("id = ?", interfaceID).Count(&count).Error; err != nil {
			return errors.ErrSystem.WithCause(err)
		}
		if count == 0 {
			return errors.ErrNotFound
		}
		if err := tx.Model(&models.Principal{}).Where("id = ?", userID).Count(&count).Error; err != nil {
			return errors.ErrSystem.WithCause(err)
		}
		if count == 0 {
			return errors.ErrNotFound
		}

		var q models.QuotaRelation
		err := tx.Where("interface_info_id = ? AND user_id = ?", interfaceID, userID).First(&q).Error
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return errors.ErrNoGrant
		}
		if err != nil {
			return errors.ErrSystem.WithCause(err)
		}

		result := tx.Model(&models.QuotaRelation{}).
			Where("id = ? AND (remain_num = ? OR remain_num > 0)", q.ID, constants.UnlimitedCalls).
			Updates(map[string]interface{}{
				"total_num":  gorm.Expr("total_num + 1"),
				"remain_num": gorm.Expr("CASE WHEN remain_num = ? THEN remain_num ELSE remain_num - 1 END", constants.UnlimitedCalls),
				"updated_at": time.Now(),
			})
		if result.Error != nil {
			return errors.ErrSystem.WithCause(result.Error)
		}
		if result.RowsAffected == 0 {
			return errors.ErrQuotaExhausted
		}
		return nil
	})

	if err != nil {
		s.logger.Warn(ctx, "Invocation not recorded",
			logger.Int64("interface_id", interfaceID),
			logger.Int64("user_id", userID),
			logger.String("error", err.Error()),
		)
		return err
	}

	s.logger.Debug(ctx, "Invocation recorded",
		logger.Int64("interface_id", interfaceID),
		logger.Int64("user_id", userID),
		logger.Int64("latency_ms", time.Since(startTime).Milliseconds()),
	)
	return nil
}

// SavePrincipal creates or updates a principal.
func (s *Store) SavePrincipal(ctx context.Context, p *models.Principal) error {
	return s.db.WithContext(ctx).Save(p).Error
}

// SaveRoute creates or updates an interface.
func (s *Store) SaveRoute(ctx context.Context, r *models.RouteDescriptor) error {
	r.Method = models.NormalizeMethod(r.Method)
	return s.db.WithContext(ctx).Save(r).Error
}

// SaveQuota creates or updates a grant.
func (s *Store) SaveQuota(ctx context.Context, q *models.QuotaRelation) error {
	if q.RemainingCalls < constants.UnlimitedCalls {
		return fmt.Errorf("remaining calls must be >= %d, got %d", constants.UnlimitedCalls, q.RemainingCalls)
	}
	return s.db.WithContext(ctx).Save(q).Error
}

func notFoundAsNil(err error) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return errors.ErrSystem.WithCause(err)
}
