// Package db wires zap into gorm and opens the connection pool used by the
// usage ledger and the subscription mirror.
package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

type quietLogger struct {
	zapgorm2.Logger
}

// A missing record is an expected outcome on the entitlement paths (no usage
// yet this period, no subscription record); keep it out of zap/sentry
func (l *quietLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if err == gorm.ErrRecordNotFound {
		return
	}
	l.Logger.Trace(ctx, begin, fc, err)
}

// New returns an instance for interacting with the PostgreSQL database
func New(logger *zap.Logger, uri string) (*gorm.DB, error) {
	gLogger := zapgorm2.Logger{
		ZapLogger:        logger,
		LogLevel:         gormlogger.Warn,
		SlowThreshold:    time.Millisecond * 250,
		SkipCallerLookup: false,
	}
	db, err := gorm.Open(postgres.Open(uri), &gorm.Config{
		Logger: &quietLogger{
			Logger: gLogger,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Cannot connect to database")
	}
	pool, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "Cannot get the connection pool")
	}
	// every gated request costs at least one round trip, keep warm conns around
	pool.SetMaxIdleConns(4)
	pool.SetMaxOpenConns(32)
	pool.SetConnMaxLifetime(time.Minute * 30)
	return db, nil
}
