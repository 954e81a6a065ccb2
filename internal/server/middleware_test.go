package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/atrium/internal/config"
	"github.com/smallbiznis/atrium/internal/identity"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
)

type fakeOrgService struct {
	role       string
	roleErr    error
	lastOrgID  snowflake.ID
	lastUserID snowflake.ID
}

func (f *fakeOrgService) Create(ctx context.Context, userID snowflake.ID, req orgdomain.CreateOrganizationRequest) (*orgdomain.OrganizationResponse, error) {
	_ = ctx
	_ = userID
	_ = req
	return nil, errors.New("not implemented")
}

func (f *fakeOrgService) GetByID(ctx context.Context, id string) (*orgdomain.OrganizationResponse, error) {
	_ = ctx
	_ = id
	return nil, errors.New("not implemented")
}

func (f *fakeOrgService) ListOrganizationsByUser(ctx context.Context, userID snowflake.ID) ([]orgdomain.OrganizationListResponseItem, error) {
	_ = ctx
	_ = userID
	return nil, nil
}

func (f *fakeOrgService) MemberRole(ctx context.Context, orgID snowflake.ID, userID snowflake.ID) (string, error) {
	_ = ctx
	f.lastOrgID = orgID
	f.lastUserID = userID
	if f.roleErr != nil {
		return "", f.roleErr
	}
	return f.role, nil
}

func newTestVerifier(t *testing.T) *identity.Verifier {
	t.Helper()
	v, err := identity.NewVerifier(config.Config{AuthJWTSecret: "middleware-test-secret"})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	return v
}

func signToken(t *testing.T, v *identity.Verifier, userID snowflake.ID) string {
	t.Helper()
	token, err := v.Sign(userID, "", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	srv := &Server{verifier: newTestVerifier(t)}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/protected", srv.AuthRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAuthRequiredRejectsForgedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	issuer, err := identity.NewVerifier(config.Config{AuthJWTSecret: "some-other-secret"})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	srv := &Server{verifier: newTestVerifier(t)}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/protected", srv.AuthRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, issuer, node.Generate()))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestAuthRequiredResolvesUser(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verifier := newTestVerifier(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	userID := node.Generate()

	srv := &Server{verifier: verifier}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/protected", srv.AuthRequired(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(contextUserIDKey)})
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, verifier, userID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if want := userID.String(); !strings.Contains(resp.Body.String(), want) {
		t.Fatalf("expected body to carry user id %s, got %s", want, resp.Body.String())
	}
}

func TestOrgContextRequiresHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verifier := newTestVerifier(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	srv := &Server{
		verifier:        verifier,
		organizationSvc: &fakeOrgService{role: orgdomain.RoleAdmin},
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/scoped", srv.AuthRequired(), srv.OrgContext(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, verifier, node.Generate()))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOrgContextRejectsNonMember(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verifier := newTestVerifier(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	srv := &Server{
		verifier:        verifier,
		organizationSvc: &fakeOrgService{roleErr: orgdomain.ErrNotMember},
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/scoped", srv.AuthRequired(), srv.OrgContext(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, verifier, node.Generate()))
	req.Header.Set(HeaderOrg, node.Generate().String())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestOrgContextResolvesRoleAndOrg(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verifier := newTestVerifier(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	userID := node.Generate()
	orgID := node.Generate()

	fake := &fakeOrgService{role: orgdomain.RoleManager}
	srv := &Server{verifier: verifier, organizationSvc: fake}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/scoped", srv.AuthRequired(), srv.OrgContext(), func(c *gin.Context) {
		scopedOrg, ok := orgIDFromRequest(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "missing org"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"org_id": scopedOrg.String(),
			"role":   c.GetString(contextOrgRoleKey),
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, verifier, userID))
	req.Header.Set(HeaderOrg, orgID.String())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if fake.lastOrgID != orgID || fake.lastUserID != userID {
		t.Fatalf("expected role lookup for org %s user %s, got org %s user %s", orgID, userID, fake.lastOrgID, fake.lastUserID)
	}
	if !strings.Contains(resp.Body.String(), orgdomain.RoleManager) {
		t.Fatalf("expected resolved role in body, got %s", resp.Body.String())
	}
}

func TestOrgContextFallsBackToDefaultOrg(t *testing.T) {
	gin.SetMode(gin.TestMode)

	verifier := newTestVerifier(t)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	defaultOrg := node.Generate()

	fake := &fakeOrgService{role: orgdomain.RoleUser}
	srv := &Server{
		verifier:        verifier,
		cfg:             config.Config{DefaultOrgID: int64(defaultOrg)},
		organizationSvc: fake,
	}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.GET("/scoped", srv.AuthRequired(), srv.OrgContext(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/scoped", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, verifier, node.Generate()))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if fake.lastOrgID != defaultOrg {
		t.Fatalf("expected role lookup against default org %s, got %s", defaultOrg, fake.lastOrgID)
	}
}

func TestRequireRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name string
		role string
		want int
	}{
		{name: "admin allowed", role: orgdomain.RoleAdmin, want: http.StatusOK},
		{name: "manager allowed", role: orgdomain.RoleManager, want: http.StatusOK},
		{name: "user forbidden", role: orgdomain.RoleUser, want: http.StatusForbidden},
		{name: "missing role unauthorized", role: "", want: http.StatusUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := &Server{}

			router := gin.New()
			router.Use(ErrorHandlingMiddleware())
			router.GET("/elevated",
				func(c *gin.Context) {
					if tc.role != "" {
						c.Set(contextOrgRoleKey, tc.role)
					}
				},
				srv.RequireRole(orgdomain.RoleAdmin, orgdomain.RoleManager),
				func(c *gin.Context) {
					c.JSON(http.StatusOK, gin.H{"status": "ok"})
				},
			)

			req := httptest.NewRequest(http.MethodGet, "/elevated", nil)
			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tc.want {
				t.Fatalf("expected status %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "standard", header: "Bearer abc123", want: "abc123"},
		{name: "lowercase scheme", header: "bearer abc123", want: "abc123"},
		{name: "missing", header: "", want: ""},
		{name: "wrong scheme", header: "Basic abc123", want: ""},
		{name: "scheme only", header: "Bearer", want: ""},
		{name: "blank token", header: "Bearer    ", want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				c.Request.Header.Set("Authorization", tc.header)
			}
			if got := bearerToken(c); got != tc.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
			}
		})
	}
}
