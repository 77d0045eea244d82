package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		id, ok := GetUserIDFromContext(r.Context())
		if !ok {
			t.Fatalf("user id not in context")
		}
		if id != 42 {
			t.Fatalf("user id from context = %d, want 42", id)
		}
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	m.SetAuthCookie(w, 42)
	res := w.Result()
	resCookies := res.Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r.AddCookie(resCookies[0])

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithoutCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)

	handler := m.Middleware(next)
	handler.ServeHTTP(w, r)

	res := w.Result()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_TamperedCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	w := httptest.NewRecorder()
	m.SetAuthCookie(w, 42)
	cookie := w.Result().Cookies()[0]
	cookie.Value = "1" + cookie.Value[2:]

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(cookie)
	rec := httptest.NewRecorder()
	m.Middleware(next).ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		userID     int64
		withUser   bool
		admin      bool
		checkErr   error
		wantStatus int
	}{
		{name: "admin", userID: 1, withUser: true, admin: true, wantStatus: http.StatusOK},
		{name: "regular user", userID: 2, withUser: true, wantStatus: http.StatusForbidden},
		{name: "no user", wantStatus: http.StatusUnauthorized},
		{name: "lookup error", userID: 3, withUser: true, checkErr: errors.New("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := func(ctx context.Context, id int64) (bool, error) {
				if id != tt.userID {
					t.Fatalf("checked user %d, want %d", id, tt.userID)
				}
				return tt.admin, tt.checkErr
			}
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			r := httptest.NewRequest(http.MethodGet, "/api/admin/orders", nil)
			if tt.withUser {
				r = r.WithContext(context.WithValue(r.Context(), userIDKey, tt.userID))
			}
			rec := httptest.NewRecorder()
			RequireAdmin(check)(next).ServeHTTP(rec, r)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestParseCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	tests := []struct {
		name   string
		value  string
		wantID int64
		wantOK bool
	}{
		{name: "valid", value: m.signUserID(7), wantID: 7, wantOK: true},
		{name: "foreign secret", value: other.signUserID(7)},
		{name: "no separator", value: "7"},
		{name: "empty id", value: "." + m.mac("")},
		{name: "non numeric id", value: "abc." + m.mac("abc")},
		{name: "zero id", value: "0." + m.mac("0")},
		{name: "extra segment", value: m.signUserID(7) + ".x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := m.parseCookie(tt.value)
			if ok != tt.wantOK || id != tt.wantID {
				t.Fatalf("parseCookie(%q) = %d, %v; want %d, %v", tt.value, id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
