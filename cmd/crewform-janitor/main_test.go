package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/crewform/pkg/rbac"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSweepDeletesExpiredGrants(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`DELETE FROM temporary_grants WHERE expires_at <= \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := sweep(context.Background(), rbac.NewStore(db), time.Second, now, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type failingSweeper struct{}

func (failingSweeper) DeleteExpiredGrants(ctx context.Context, before time.Time) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestSweepReturnsStoreError(t *testing.T) {
	deleted, err := sweep(context.Background(), failingSweeper{}, time.Second, time.Now(), quietLogger())
	assert.Error(t, err)
	assert.Zero(t, deleted)
}

func TestDefaultScheduleParses(t *testing.T) {
	_, err := cron.ParseStandard("@every 15m")
	assert.NoError(t, err)
}

func TestSetupLoggerFallsBackToInfo(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, setupLogger("loud").GetLevel())
	assert.Equal(t, logrus.DebugLevel, setupLogger("debug").GetLevel())
}
