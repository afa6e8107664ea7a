package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testSecret = []byte("test-secret")

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func serve(t *testing.T, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	mw := NewMiddleware(testSecret, NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil))
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, req)
	return resp
}

func mustToken(t *testing.T, role Role, merchantID string) string {
	t.Helper()
	token, err := IssueToken(testSecret, "user-1", role, merchantID, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestAuthMiddleware_NoToken(t *testing.T) {
	if resp := serve(t, http.MethodGet, "/api/v1/billing/plans", ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ExemptPath(t *testing.T) {
	if resp := serve(t, http.MethodGet, "/healthz", ""); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenProcess(t *testing.T) {
	token := mustToken(t, RoleViewer, "")
	if resp := serve(t, http.MethodPost, "/api/v1/billing/orders/process", token); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorForbiddenRollover(t *testing.T) {
	token := mustToken(t, RoleOperator, "")
	if resp := serve(t, http.MethodPost, "/api/v1/billing/rollover", token); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if resp := serve(t, http.MethodPost, "/api/v1/billing/orders/process", token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_StatementExportNeedsAdmin(t *testing.T) {
	path := "/api/v1/billing/cycles/c-1/statement.pdf"
	if resp := serve(t, http.MethodGet, path, mustToken(t, RoleOperator, "")); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
	if resp := serve(t, http.MethodGet, path, mustToken(t, RoleAdmin, "")); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuthMiddleware_MerchantScopedTokenIsReadOnly(t *testing.T) {
	token := mustToken(t, RoleAdmin, "m-1")
	if resp := serve(t, http.MethodGet, "/api/v1/billing/merchants/m-1/usage", token); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if resp := serve(t, http.MethodPost, "/api/v1/billing/rollover", token); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_BadSignature(t *testing.T) {
	token, err := IssueToken([]byte("other"), "user-1", RoleAdmin, "", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if resp := serve(t, http.MethodGet, "/api/v1/billing/plans", token); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestCanReadMerchant(t *testing.T) {
	staff := WithIdentity(context.Background(), "", RoleViewer, "s")
	scoped := WithIdentity(context.Background(), "m-1", RoleViewer, "s")
	if !CanReadMerchant(staff, "m-2") {
		t.Fatalf("staff token should read any merchant")
	}
	if !CanReadMerchant(scoped, "m-1") || CanReadMerchant(scoped, "m-2") {
		t.Fatalf("scoped token must only read its own merchant")
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":    "abc",
		"bearer abc":    "abc",
		"  Bearer abc ": "abc",
		"Basic abc":     "",
		"Bearer":        "",
		"Bearer a b":    "",
		"":              "",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestNormalizeRole(t *testing.T) {
	if role, ok := NormalizeRole(" Admin "); !ok || role != RoleAdmin {
		t.Fatalf("expected admin, got %q %v", role, ok)
	}
	if _, ok := NormalizeRole("root"); ok {
		t.Fatalf("unknown role accepted")
	}
	if RoleAtLeast("", RoleViewer) {
		t.Fatalf("empty role must not satisfy viewer")
	}
}
