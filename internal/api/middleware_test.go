package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		key    string
		path   string
		header string
		want   int
	}{
		{"no key configured", "", "/v1/bots", "", http.StatusOK},
		{"health bypass", "secret123", "/health", "", http.StatusOK},
		{"metrics bypass", "secret123", "/metrics", "", http.StatusOK},
		{"missing header", "secret123", "/v1/bots", "", http.StatusUnauthorized},
		{"wrong key", "secret123", "/v1/bots", "Bearer wrong_key", http.StatusUnauthorized},
		{"non-bearer scheme", "secret123", "/v1/emergency-stop", "Basic secret123", http.StatusUnauthorized},
		{"correct key", "secret123", "/v1/audit-log", "Bearer secret123", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Server{apiKey: tc.key}
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			s.authMiddleware(okHandler()).ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("%s %s: got %d, want %d", tc.path, tc.header, rr.Code, tc.want)
			}
		})
	}
}

func TestValidateDate(t *testing.T) {
	for _, d := range []string{"2026-01-15", "2025-12-31", "2024-02-29"} {
		if !validateDate(d) {
			t.Fatalf("expected %q to be valid", d)
		}
	}

	for _, d := range []string{"", "2026", "01-15-2026", "2026/01/15", "2026-13-01", "2025-02-29", "2026-1-5"} {
		if validateDate(d) {
			t.Fatalf("expected %q to be invalid", d)
		}
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		query    string
		deflt    int
		expected int
	}{
		{"", 100, 100},
		{"?limit=50", 100, 50},
		{"?limit=0", 100, 100},
		{"?limit=-5", 100, 100},
		{"?limit=abc", 100, 100},
		{"?limit=2000", 100, maxQueryLimit},
		{"?limit=1000", 100, 1000},
		{"?limit=1", 50, 1},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/test"+tc.query, nil)
		got := parseLimit(req, tc.deflt)
		if got != tc.expected {
			t.Fatalf("parseLimit(%q, %d) = %d, want %d", tc.query, tc.deflt, got, tc.expected)
		}
	}
}

func TestCorsMiddleware_Headers(t *testing.T) {
	handler := corsMiddleware(okHandler(), "https://myapp.example.com")

	req := httptest.NewRequest(http.MethodGet, "/v1/bots", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	origin := rr.Header().Get("Access-Control-Allow-Origin")
	if origin != "https://myapp.example.com" {
		t.Fatalf("expected custom origin, got %q", origin)
	}

	allow := rr.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(allow, "Authorization") || !strings.Contains(allow, "X-Owner-ID") {
		t.Fatalf("expected Allow-Headers to include Authorization and X-Owner-ID, got %q", allow)
	}
}

func TestWithOwner(t *testing.T) {
	s := &Server{}
	var got string
	handler := s.withOwner(func(w http.ResponseWriter, r *http.Request, owner string) {
		got = owner
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/bots", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without owner, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/bots", nil)
	req.Header.Set("X-Owner-ID", " user-7 ")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || got != "user-7" {
		t.Fatalf("expected owner user-7 and 200, got %q and %d", got, rr.Code)
	}
}

func TestParseTime(t *testing.T) {
	from, err := parseTime("2026-05-01", false)
	if err != nil || !from.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected from: %v %v", from, err)
	}
	to, err := parseTime("2026-05-01", true)
	if err != nil || to.Day() != 1 || to.Hour() != 23 {
		t.Fatalf("bare date upper bound should cover the day, got %v %v", to, err)
	}
	ts, err := parseTime("2026-05-01T10:30:00Z", true)
	if err != nil || ts.Minute() != 30 {
		t.Fatalf("unexpected RFC3339 parse: %v %v", ts, err)
	}
	if none, err := parseTime("", false); none != nil || err != nil {
		t.Fatalf("empty value should be nil, got %v %v", none, err)
	}
	if _, err := parseTime("yesterday", false); err == nil {
		t.Fatal("expected error for garbage time")
	}
}

func TestCorsMiddleware_Preflight(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("inner handler should not be called for OPTIONS")
	})
	handler := corsMiddleware(inner, "*")

	req := httptest.NewRequest(http.MethodOptions, "/v1/bots", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for preflight, got %d", rr.Code)
	}
}
