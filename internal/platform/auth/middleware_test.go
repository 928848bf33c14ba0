package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireGatewayAuthInjectsIdentity(t *testing.T) {
	var captured *Identity
	handler := RequireGatewayAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("expected identity in context")
		}
		captured = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderUserID, "user-123")
	req.Header.Set(HeaderUserEmail, "buyer@example.com")
	req.Header.Set(HeaderUserRoles, "Customer, customer, STAFF")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if captured.UID != "user-123" {
		t.Errorf("unexpected uid %s", captured.UID)
	}
	if captured.Email != "buyer@example.com" {
		t.Errorf("unexpected email %s", captured.Email)
	}
	if len(captured.Roles) != 2 {
		t.Errorf("expected deduplicated roles, got %v", captured.Roles)
	}
	if !captured.HasRole("staff") {
		t.Error("expected staff role")
	}
}

func TestRequireGatewayAuthMissingIdentity(t *testing.T) {
	handler := RequireGatewayAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be reached")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireGatewayAuthRoleCheck(t *testing.T) {
	handler := RequireGatewayAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/admin/orders", nil)
	req.Header.Set(HeaderUserID, "user-123")
	req.Header.Set(HeaderUserRoles, "customer")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rec.Code)
	}

	req.Header.Set(HeaderUserRoles, "admin")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", rec.Code)
	}
}

func TestRequireGatewayAuthDefaultsRole(t *testing.T) {
	handler := RequireGatewayAuth(RoleCustomer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if !identity.HasRole(RoleCustomer) {
			t.Errorf("expected fallback customer role, got %v", identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set(HeaderUserID, "user-123")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestIdentityIsStaff(t *testing.T) {
	if (&Identity{Roles: []string{"customer"}}).IsStaff() {
		t.Error("customer should not be staff")
	}
	if !(&Identity{Roles: []string{"admin"}}).IsStaff() {
		t.Error("admin should be staff")
	}
	var nilIdentity *Identity
	if nilIdentity.HasRole("admin") {
		t.Error("nil identity should have no roles")
	}
}
