package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ── Stub account lookup ──────────────────────────────────────────────────

type stubLookup struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*accounts.Account
}

func newStubLookup() *stubLookup {
	return &stubLookup{byID: make(map[uuid.UUID]*accounts.Account)}
}

func (s *stubLookup) Lookup(_ context.Context, id uuid.UUID) (*accounts.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, accounts.ErrAccountNotFound
	}
	return a, nil
}

func (s *stubLookup) add(a *accounts.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[a.ID] = a
}

// ── Shared fixtures ──────────────────────────────────────────────────────

func testIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	iss, err := identity.NewTokenIssuer([]byte("handler-test-secret-0123456789abcdef"), "http://test", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return iss
}

// signIn registers an account with the lookup and returns its bearer header.
func signIn(t *testing.T, iss *identity.TokenIssuer, lookup *stubLookup, a *accounts.Account) string {
	t.Helper()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	lookup.add(a)
	tok, err := iss.Issue(a.ID.String())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return "Bearer " + tok
}

func doJSON(router http.Handler, method, path, body, auth string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func wantStatus(t *testing.T, w *httptest.ResponseRecorder, code int) {
	t.Helper()
	if w.Code != code {
		t.Fatalf("expected %d, got %d: %s", code, w.Code, w.Body.String())
	}
}
