package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/fault"
	"github.com/smallbiznis/atrium/internal/identity"
	"github.com/smallbiznis/atrium/internal/invitation/domain"
	"github.com/smallbiznis/atrium/internal/invitation/repository"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	orgrepo "github.com/smallbiznis/atrium/internal/organization/repository"
	"github.com/smallbiznis/atrium/internal/ratelimit"
	userdomain "github.com/smallbiznis/atrium/internal/user/domain"
	userrepo "github.com/smallbiznis/atrium/internal/user/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clk   *clock.FakeClock
	svc   domain.Service
	org   *orgdomain.Organization
	admin identity.Actor
}

var testStart = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func setupFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
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

	if err := db.AutoMigrate(
		&orgdomain.Organization{},
		&orgdomain.OrganizationMember{},
		&userdomain.User{},
		&domain.Invitation{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS ux_invitations_pending_email ON invitations (org_id, email) WHERE status = 'pending'")

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	clk := clock.NewFakeClock(testStart)

	ctx := context.Background()
	orgs := orgrepo.NewRepository(db)
	users := userrepo.NewRepository(db)

	org := &orgdomain.Organization{
		ID:        node.Generate(),
		Name:      "Acme",
		Slug:      "acme",
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}
	if err := orgs.CreateOrganization(ctx, *org); err != nil {
		t.Fatalf("seed org: %v", err)
	}

	adminID := node.Generate()
	if err := users.Create(ctx, userdomain.User{
		ID:          adminID,
		Email:       "admin@acme.test",
		DisplayName: "Acme Admin",
		CreatedAt:   clk.Now(),
		UpdatedAt:   clk.Now(),
	}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if err := orgs.AddMember(ctx, orgdomain.OrganizationMember{
		ID:        node.Generate(),
		OrgID:     org.ID,
		UserID:    adminID,
		Role:      orgdomain.RoleAdmin,
		CreatedAt: clk.Now(),
	}); err != nil {
		t.Fatalf("seed admin membership: %v", err)
	}

	svc := NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Config:  config.Config{PublicBaseURL: "http://localhost:8080"},
		GenID:   node,
		Clock:   clk,
		Repo:    repository.NewRepository(db),
		Users:   users,
		Orgs:    orgs,
		Limiter: limiter,
	})

	return &fixture{
		db:    db,
		node:  node,
		clk:   clk,
		svc:   svc,
		org:   org,
		admin: identity.Actor{UserID: adminID, Role: orgdomain.RoleAdmin},
	}
}

func (f *fixture) row(t *testing.T, id string) *domain.Invitation {
	t.Helper()
	var inv domain.Invitation
	if err := f.db.First(&inv, "id = ?", id).Error; err != nil {
		t.Fatalf("load invitation %s: %v", id, err)
	}
	return &inv
}

func (f *fixture) rowByEmail(t *testing.T, email string) *domain.Invitation {
	t.Helper()
	var inv domain.Invitation
	if err := f.db.Order("created_at desc").First(&inv, "email = ?", email).Error; err != nil {
		t.Fatalf("load invitation for %s: %v", email, err)
	}
	return &inv
}

func TestCreateInvitation(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{
		Email: "  Alice@Example.COM  ",
		Role:  "MANAGER",
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", resp.Email)
	assert.Equal(t, "manager", resp.Role)
	assert.Equal(t, string(domain.StatusPending), resp.Status)
	assert.False(t, resp.Expired)
	assert.Equal(t, f.admin.UserID.String(), resp.InvitedBy)
	assert.Equal(t, 0, resp.ResendCount)
	assert.True(t, resp.ExpiresAt.Equal(testStart.Add(domain.TTL)),
		"expected deadline %s, got %s", testStart.Add(domain.TTL), resp.ExpiresAt)

	row := f.row(t, resp.ID)
	assert.NotEmpty(t, row.Code)
	assert.Equal(t, domain.StatusPending, row.Status)
}

func TestCreateDefaultsRoleToUser(t *testing.T) {
	f := setupFixture(t, nil)

	resp, err := f.svc.Create(context.Background(), f.org.ID, f.admin, domain.CreateRequest{
		Email: "bob@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, orgdomain.RoleUser, resp.Role)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     domain.CreateRequest
		wantErr error
	}{
		{"missing email", domain.CreateRequest{Role: "user"}, domain.ErrInvalidEmail},
		{"malformed email", domain.CreateRequest{Email: "not-an-email"}, domain.ErrInvalidEmail},
		{"unknown role", domain.CreateRequest{Email: "ok@example.com", Role: "owner"}, domain.ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, f.org.ID, f.admin, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateRejectsDuplicatePending(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "carol@example.com"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "Carol@Example.com"})
	assert.ErrorIs(t, err, domain.ErrPendingExists)
	assert.Equal(t, fault.KindConflict, fault.KindOf(err))
}

func TestCreateSupersedesExpiredPending(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "dana@example.com"})
	require.NoError(t, err)

	f.clk.Advance(domain.TTL + time.Hour)

	second, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "dana@example.com"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, domain.StatusExpired, f.row(t, first.ID).Status)
	assert.Equal(t, domain.StatusPending, f.row(t, second.ID).Status)
}

func TestCreateRejectsExistingMember(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "admin@acme.test"})
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	// A known user without a membership in this org can still be invited.
	users := userrepo.NewRepository(f.db)
	require.NoError(t, users.Create(ctx, userdomain.User{
		ID:          f.node.Generate(),
		Email:       "outsider@example.com",
		DisplayName: "Outsider",
		CreatedAt:   f.clk.Now(),
		UpdatedAt:   f.clk.Now(),
	}))

	_, err = f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "outsider@example.com"})
	assert.NoError(t, err)
}

func TestResendBumpsCountAndKeepsDeadline(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "erin@example.com"})
	require.NoError(t, err)
	id, err := snowflake.ParseString(created.ID)
	require.NoError(t, err)

	f.clk.Advance(time.Hour)

	resp, err := f.svc.Resend(ctx, f.org.ID, f.admin, id)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.ResendCount)
	assert.True(t, resp.ExpiresAt.Equal(created.ExpiresAt), "resend must not extend the deadline")

	row := f.row(t, created.ID)
	assert.Equal(t, 1, row.ResendCount)
	assert.WithinDuration(t, f.clk.Now(), row.LastSentAt, time.Second)

	resp, err = f.svc.Resend(ctx, f.org.ID, f.admin, id)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ResendCount)
}

func TestResendRejectsNonPending(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "frank@example.com"})
	require.NoError(t, err)
	id, err := snowflake.ParseString(created.ID)
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, f.org.ID, f.admin, id, "")
	require.NoError(t, err)

	_, err = f.svc.Resend(ctx, f.org.ID, f.admin, id)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
}

func TestResendExpiredWritesBack(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "gail@example.com"})
	require.NoError(t, err)
	id, err := snowflake.ParseString(created.ID)
	require.NoError(t, err)

	f.clk.Advance(domain.TTL)

	_, err = f.svc.Resend(ctx, f.org.ID, f.admin, id)
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, domain.StatusExpired, f.row(t, created.ID).Status)
}

func TestCancelMarksCancelled(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "hank@example.com"})
	require.NoError(t, err)
	id, err := snowflake.ParseString(created.ID)
	require.NoError(t, err)

	resp, err := f.svc.Cancel(ctx, f.org.ID, f.admin, id, "role no longer needed")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCancelled), resp.Status)
	require.NotNil(t, resp.CancelledAt)

	row := f.row(t, created.ID)
	assert.Equal(t, domain.StatusCancelled, row.Status)
	require.NotNil(t, row.CancelledAt)
	require.NotNil(t, row.CancelReason)
	assert.Equal(t, "role no longer needed", *row.CancelReason)

	_, err = f.svc.Cancel(ctx, f.org.ID, f.admin, id, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
}

func TestCancelMissingInvitation(t *testing.T) {
	f := setupFixture(t, nil)

	_, err := f.svc.Cancel(context.Background(), f.org.ID, f.admin, f.node.Generate(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAcceptCreatesMembershipAndUser(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{
		Email: "newhire@example.com",
		Role:  "manager",
	})
	require.NoError(t, err)
	code := f.rowByEmail(t, "newhire@example.com").Code

	userID := f.node.Generate()
	resp, err := f.svc.Accept(ctx, code, userID)
	require.NoError(t, err)
	assert.Equal(t, f.org.ID.String(), resp.OrgID)
	assert.Equal(t, "Acme", resp.OrgName)
	assert.Equal(t, "manager", resp.Role)

	var user userdomain.User
	require.NoError(t, f.db.First(&user, "id = ?", userID).Error)
	assert.Equal(t, "newhire@example.com", user.Email)
	assert.Equal(t, "newhire", user.DisplayName)

	var member orgdomain.OrganizationMember
	require.NoError(t, f.db.First(&member, "org_id = ? AND user_id = ?", f.org.ID, userID).Error)
	assert.Equal(t, "manager", member.Role)

	row := f.rowByEmail(t, "newhire@example.com")
	assert.Equal(t, domain.StatusAccepted, row.Status)
	require.NotNil(t, row.AcceptedAt)
}

func TestAcceptKeepsExistingUserProfile(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	userID := f.node.Generate()
	users := userrepo.NewRepository(f.db)
	require.NoError(t, users.Create(ctx, userdomain.User{
		ID:          userID,
		Email:       "eve@example.com",
		DisplayName: "Eve Quantrell",
		CreatedAt:   f.clk.Now(),
		UpdatedAt:   f.clk.Now(),
	}))

	_, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "eve@example.com"})
	require.NoError(t, err)
	code := f.rowByEmail(t, "eve@example.com").Code

	_, err = f.svc.Accept(ctx, code, userID)
	require.NoError(t, err)

	var user userdomain.User
	require.NoError(t, f.db.First(&user, "id = ?", userID).Error)
	assert.Equal(t, "Eve Quantrell", user.DisplayName)
}

func TestAcceptRejectsReusedCode(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "ivan@example.com"})
	require.NoError(t, err)
	code := f.rowByEmail(t, "ivan@example.com").Code

	_, err = f.svc.Accept(ctx, code, f.node.Generate())
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, code, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrAlreadyAccepted)
}

func TestAcceptExpiredInvitation(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "judy@example.com"})
	require.NoError(t, err)
	code := f.rowByEmail(t, "judy@example.com").Code

	f.clk.Advance(domain.TTL)

	_, err = f.svc.Accept(ctx, code, f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrExpired)
	assert.Equal(t, domain.StatusExpired, f.row(t, created.ID).Status)
}

func TestAcceptExistingMemberRollsBack(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "kate@example.com"})
	require.NoError(t, err)
	code := f.rowByEmail(t, "kate@example.com").Code

	// Kate registers and is added to the org between invite and accept.
	userID := f.node.Generate()
	users := userrepo.NewRepository(f.db)
	orgs := orgrepo.NewRepository(f.db)
	require.NoError(t, users.Create(ctx, userdomain.User{
		ID:          userID,
		Email:       "kate@example.com",
		DisplayName: "Kate",
		CreatedAt:   f.clk.Now(),
		UpdatedAt:   f.clk.Now(),
	}))
	require.NoError(t, orgs.AddMember(ctx, orgdomain.OrganizationMember{
		ID:        f.node.Generate(),
		OrgID:     f.org.ID,
		UserID:    userID,
		Role:      orgdomain.RoleUser,
		CreatedAt: f.clk.Now(),
	}))

	_, err = f.svc.Accept(ctx, code, userID)
	assert.ErrorIs(t, err, domain.ErrAlreadyMember)

	// The failed membership insert must roll the status flip back too.
	assert.Equal(t, domain.StatusPending, f.row(t, created.ID).Status)
}

func TestAcceptUnknownCode(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Accept(ctx, "no-such-code", f.node.Generate())
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Accept(ctx, "   ", f.node.Generate())
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

func TestGetComputesExpiredFlag(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "liam@example.com"})
	require.NoError(t, err)
	id, err := snowflake.ParseString(created.ID)
	require.NoError(t, err)

	f.clk.Advance(domain.TTL + time.Minute)

	resp, err := f.svc.Get(ctx, f.org.ID, id)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusPending), resp.Status)
	assert.True(t, resp.Expired, "reads past the deadline must report expired")
}

func TestListPaginatesNewestFirst(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	for _, email := range emails {
		_, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: email})
		require.NoError(t, err)
		f.clk.Advance(time.Second)
	}

	page1, err := f.svc.List(ctx, f.org.ID, domain.ListRequest{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page1.Invitations, 2)
	assert.Equal(t, "c@example.com", page1.Invitations[0].Email)
	assert.Equal(t, "b@example.com", page1.Invitations[1].Email)
	assert.True(t, page1.PageInfo.HasMore)
	require.NotEmpty(t, page1.PageInfo.NextPageToken)

	page2, err := f.svc.List(ctx, f.org.ID, domain.ListRequest{
		PageSize:  2,
		PageToken: page1.PageInfo.NextPageToken,
	})
	require.NoError(t, err)
	require.Len(t, page2.Invitations, 1)
	assert.Equal(t, "a@example.com", page2.Invitations[0].Email)
	assert.False(t, page2.PageInfo.HasMore)
}

func TestListFilters(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "mia@example.com"})
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "noah@example.com"})
	require.NoError(t, err)

	id, err := snowflake.ParseString(first.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, f.org.ID, f.admin, id, "")
	require.NoError(t, err)

	cancelled, err := f.svc.List(ctx, f.org.ID, domain.ListRequest{Status: "cancelled"})
	require.NoError(t, err)
	require.Len(t, cancelled.Invitations, 1)
	assert.Equal(t, "mia@example.com", cancelled.Invitations[0].Email)

	byEmail, err := f.svc.List(ctx, f.org.ID, domain.ListRequest{Email: "Noah@Example.com"})
	require.NoError(t, err)
	require.Len(t, byEmail.Invitations, 1)
	assert.Equal(t, "noah@example.com", byEmail.Invitations[0].Email)

	_, err = f.svc.List(ctx, f.org.ID, domain.ListRequest{Status: "bogus"})
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))

	_, err = f.svc.List(ctx, f.org.ID, domain.ListRequest{PageToken: "%%%"})
	assert.ErrorIs(t, err, domain.ErrInvalidPageToken)
}

func TestCreateManyReportsPerItemOutcomes(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	result, err := f.svc.CreateMany(ctx, f.org.ID, f.admin, []domain.CreateRequest{
		{Email: "one@example.com"},
		{Email: "broken"},
		{Email: "two@example.com", Role: "manager"},
		{Email: "One@Example.com"},
		{Email: "three@example.com", Role: "overlord"},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, []string{"one@example.com", "two@example.com"}, result.Successful)
	require.Len(t, result.Failed, 3)

	assert.Equal(t, "broken", result.Failed[0].Identifier)
	assert.Equal(t, string(fault.KindValidation), result.Failed[0].ErrorKind)
	assert.Equal(t, "one@example.com", result.Failed[1].Identifier)
	assert.Equal(t, string(fault.KindConflict), result.Failed[1].ErrorKind)
	assert.Equal(t, "duplicate email in request", result.Failed[1].Message)
	assert.Equal(t, "three@example.com", result.Failed[2].Identifier)
	assert.Equal(t, string(fault.KindValidation), result.Failed[2].ErrorKind)

	// Re-submitting the survivors trips the pending guard per item.
	again, err := f.svc.CreateMany(ctx, f.org.ID, f.admin, []domain.CreateRequest{
		{Email: "one@example.com"},
		{Email: "two@example.com"},
	})
	require.NoError(t, err)
	assert.Empty(t, again.Successful)
	require.Len(t, again.Failed, 2)
	for _, failure := range again.Failed {
		assert.Equal(t, string(fault.KindConflict), failure.ErrorKind)
	}
}

func TestBulkRejectsEmptyBatch(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.CreateMany(ctx, f.org.ID, f.admin, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
	_, err = f.svc.ResendMany(ctx, f.org.ID, f.admin, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
	_, err = f.svc.CancelMany(ctx, f.org.ID, f.admin, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyBatch)
}

func TestResendManyMixedIDs(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "olive@example.com"})
	require.NoError(t, err)

	result, err := f.svc.ResendMany(ctx, f.org.ID, f.admin, []string{
		created.ID,
		"not-a-snowflake",
		f.node.Generate().String(),
		created.ID,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{created.ID}, result.Successful)
	require.Len(t, result.Failed, 3)
	assert.Equal(t, string(fault.KindValidation), result.Failed[0].ErrorKind)
	assert.Equal(t, string(fault.KindNotFound), result.Failed[1].ErrorKind)
	assert.Equal(t, string(fault.KindConflict), result.Failed[2].ErrorKind)

	assert.Equal(t, 1, f.row(t, created.ID).ResendCount)
}

func TestCancelManyCancelsEachOnce(t *testing.T) {
	f := setupFixture(t, nil)
	ctx := context.Background()

	a, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "pat@example.com"})
	require.NoError(t, err)
	b, err := f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "quinn@example.com"})
	require.NoError(t, err)

	result, err := f.svc.CancelMany(ctx, f.org.ID, f.admin, []string{a.ID, b.ID, a.ID})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{a.ID, b.ID}, result.Successful)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, string(fault.KindConflict), result.Failed[0].ErrorKind)

	assert.Equal(t, domain.StatusCancelled, f.row(t, a.ID).Status)
	assert.Equal(t, domain.StatusCancelled, f.row(t, b.ID).Status)
}

func TestCreateEnforcesDailyQuota(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	limiter, err := ratelimit.NewLimiter(config.Config{
		RateLimit: config.RateLimitConfig{
			RedisAddr:        mr.Addr(),
			InviteDailyLimit: 2,
		},
	})
	require.NoError(t, err)

	f := setupFixture(t, limiter)
	ctx := context.Background()

	_, err = f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "r1@example.com"})
	require.NoError(t, err)

	// Conflicting requests are refused before the quota check and must not
	// consume a slot.
	_, err = f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "r1@example.com"})
	require.ErrorIs(t, err, domain.ErrPendingExists)

	_, err = f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "r2@example.com"})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, f.org.ID, f.admin, domain.CreateRequest{Email: "r3@example.com"})
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Equal(t, fault.KindRateLimited, fault.KindOf(err))
}
