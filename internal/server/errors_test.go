package server

import (
	"errors"
	"net/http"
	"testing"

	approvaldomain "github.com/smallbiznis/atrium/internal/approval/domain"
	"github.com/smallbiznis/atrium/internal/authorization"
	"github.com/smallbiznis/atrium/internal/identity"
	invitationdomain "github.com/smallbiznis/atrium/internal/invitation/domain"
	orgdomain "github.com/smallbiznis/atrium/internal/organization/domain"
	"gorm.io/gorm"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{name: "nil", err: nil, wantStatus: http.StatusInternalServerError, wantType: "internal_error"},
		{name: "validation fault", err: invitationdomain.ErrInvalidEmail, wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "binding validation", err: invalidRequestError(), wantStatus: http.StatusBadRequest, wantType: "validation_error"},
		{name: "unauthorized sentinel", err: ErrUnauthorized, wantStatus: http.StatusUnauthorized, wantType: "unauthorized"},
		{name: "invalid token", err: identity.ErrInvalidToken, wantStatus: http.StatusUnauthorized, wantType: "unauthorized"},
		{name: "forbidden sentinel", err: ErrForbidden, wantStatus: http.StatusForbidden, wantType: "forbidden"},
		{name: "capability denied", err: authorization.ErrForbidden, wantStatus: http.StatusForbidden, wantType: "forbidden"},
		{name: "not a member", err: orgdomain.ErrNotMember, wantStatus: http.StatusForbidden, wantType: "forbidden"},
		{name: "admin required", err: approvaldomain.ErrAdminRequired, wantStatus: http.StatusForbidden, wantType: "forbidden"},
		{name: "not found fault", err: invitationdomain.ErrNotFound, wantStatus: http.StatusNotFound, wantType: "not_found"},
		{name: "gorm record not found", err: gorm.ErrRecordNotFound, wantStatus: http.StatusNotFound, wantType: "not_found"},
		{name: "pending conflict", err: invitationdomain.ErrPendingExists, wantStatus: http.StatusConflict, wantType: "conflict"},
		{name: "already decided", err: approvaldomain.ErrAlreadyDecided, wantStatus: http.StatusConflict, wantType: "conflict"},
		{name: "invalid state", err: invitationdomain.ErrAlreadyCancelled, wantStatus: http.StatusConflict, wantType: "invalid_state"},
		{name: "expired", err: invitationdomain.ErrExpired, wantStatus: http.StatusConflict, wantType: "expired"},
		{name: "quota exceeded", err: invitationdomain.ErrQuotaExceeded, wantStatus: http.StatusTooManyRequests, wantType: "rate_limited"},
		{name: "accept throttled", err: errTooManyAccepts, wantStatus: http.StatusTooManyRequests, wantType: "rate_limited"},
		{name: "unknown error", err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantType: "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			if status != tc.wantStatus {
				t.Fatalf("mapError status = %d, want %d", status, tc.wantStatus)
			}
			if payload.Type != tc.wantType {
				t.Fatalf("mapError type = %q, want %q", payload.Type, tc.wantType)
			}
		})
	}
}

func TestMapErrorCarriesValidationDetails(t *testing.T) {
	status, payload := mapError(newValidationError("email", "invalid_email", "invalid email address"))
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if len(payload.Errors) != 1 {
		t.Fatalf("expected one validation entry, got %d", len(payload.Errors))
	}
	entry := payload.Errors[0]
	if entry.Field != "email" || entry.Code != "invalid_email" {
		t.Fatalf("unexpected validation entry: %+v", entry)
	}
}

func TestMapErrorMasksInternalMessages(t *testing.T) {
	_, payload := mapError(errors.New("pq: connection refused on 10.0.0.3"))
	if payload.Message != "internal server error" {
		t.Fatalf("internal detail leaked to client: %q", payload.Message)
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	errType, errCode := classifyErrorForLog(invitationdomain.ErrPendingExists)
	if errType != "conflict" || errCode != "conflict" {
		t.Fatalf("classifyErrorForLog = (%q, %q), want (conflict, conflict)", errType, errCode)
	}

	errType, errCode = classifyErrorForLog(nil)
	if errType != "" || errCode != "" {
		t.Fatalf("expected empty classification for nil error, got (%q, %q)", errType, errCode)
	}
}
