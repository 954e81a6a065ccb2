package sweeper

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	invitationdomain "github.com/smallbiznis/atrium/internal/invitation/domain"
	"github.com/smallbiznis/atrium/internal/invitation/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2025, time.April, 7, 6, 0, 0, 0, time.UTC)

type sweepFixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clk   *clock.FakeClock
	orgID snowflake.ID
	s     *Sweeper
}

func setupSweeper(t *testing.T, batchSize int) *sweepFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.AutoMigrate(&invitationdomain.Invitation{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(testStart)
	holder := config.NewStaticLifecycleConfigHolder(config.LifecycleConfig{
		Sweeper: config.SweeperConfig{
			Enabled:   true,
			Interval:  time.Minute,
			BatchSize: batchSize,
		},
	})

	s := New(Params{
		Log:    zap.NewNop(),
		Clock:  clk,
		Repo:   repository.NewRepository(db),
		Holder: holder,
	})

	return &sweepFixture{
		db:    db,
		node:  node,
		clk:   clk,
		orgID: node.Generate(),
		s:     s,
	}
}

func (f *sweepFixture) seed(t *testing.T, email string, status invitationdomain.Status, expiresAt time.Time) snowflake.ID {
	t.Helper()

	inv := invitationdomain.Invitation{
		ID:         f.node.Generate(),
		OrgID:      f.orgID,
		Email:      email,
		Role:       "user",
		Code:       "code-" + email,
		Status:     status,
		InvitedBy:  f.node.Generate(),
		ExpiresAt:  expiresAt,
		LastSentAt: testStart.Add(-48 * time.Hour),
		CreatedAt:  testStart.Add(-48 * time.Hour),
		UpdatedAt:  testStart.Add(-48 * time.Hour),
	}
	if err := f.db.Create(&inv).Error; err != nil {
		t.Fatalf("seed invitation: %v", err)
	}
	return inv.ID
}

func (f *sweepFixture) status(t *testing.T, id snowflake.ID) invitationdomain.Status {
	t.Helper()

	var inv invitationdomain.Invitation
	if err := f.db.First(&inv, "id = ?", id).Error; err != nil {
		t.Fatalf("load invitation: %v", err)
	}
	return inv.Status
}

func TestRunOnceExpiresOverdueInvitations(t *testing.T) {
	f := setupSweeper(t, 10)

	overdue := f.seed(t, "late@example.com", invitationdomain.StatusPending, testStart.Add(-time.Hour))
	dueNow := f.seed(t, "edge@example.com", invitationdomain.StatusPending, testStart)
	fresh := f.seed(t, "fresh@example.com", invitationdomain.StatusPending, testStart.Add(time.Hour))
	cancelled := f.seed(t, "gone@example.com", invitationdomain.StatusCancelled, testStart.Add(-time.Hour))

	require.NoError(t, f.s.RunOnce(context.Background()))

	assert.Equal(t, invitationdomain.StatusExpired, f.status(t, overdue))
	assert.Equal(t, invitationdomain.StatusExpired, f.status(t, dueNow))
	assert.Equal(t, invitationdomain.StatusPending, f.status(t, fresh))
	assert.Equal(t, invitationdomain.StatusCancelled, f.status(t, cancelled))

	var expired invitationdomain.Invitation
	require.NoError(t, f.db.First(&expired, "id = ?", overdue).Error)
	assert.True(t, expired.UpdatedAt.Equal(testStart), "updated_at should move to sweep time")
}

func TestRunOnceDrainsInBatches(t *testing.T) {
	f := setupSweeper(t, 2)

	ids := make([]snowflake.ID, 0, 5)
	for i := 0; i < 5; i++ {
		email := fmt.Sprintf("late%d@example.com", i)
		ids = append(ids, f.seed(t, email, invitationdomain.StatusPending, testStart.Add(-time.Duration(i+1)*time.Minute)))
	}

	require.NoError(t, f.s.RunOnce(context.Background()))

	for _, id := range ids {
		assert.Equal(t, invitationdomain.StatusExpired, f.status(t, id))
	}
}

func TestRunOnceIsIdempotent(t *testing.T) {
	f := setupSweeper(t, 10)

	id := f.seed(t, "once@example.com", invitationdomain.StatusPending, testStart.Add(-time.Minute))

	require.NoError(t, f.s.RunOnce(context.Background()))
	require.NoError(t, f.s.RunOnce(context.Background()))

	assert.Equal(t, invitationdomain.StatusExpired, f.status(t, id))
}

func TestRunOnceWithNothingOverdue(t *testing.T) {
	f := setupSweeper(t, 10)

	id := f.seed(t, "fresh@example.com", invitationdomain.StatusPending, testStart.Add(24*time.Hour))

	require.NoError(t, f.s.RunOnce(context.Background()))

	assert.Equal(t, invitationdomain.StatusPending, f.status(t, id))
}

func TestRunForeverReturnsOnCancel(t *testing.T) {
	f := setupSweeper(t, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		f.s.RunForever(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not stop after cancellation")
	}
}
