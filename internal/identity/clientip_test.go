package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPIPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ip": "203.0.113.7"}`))
	}))
	defer srv.Close()

	lookup := NewHTTPIPLookup(srv.URL)
	if got := lookup.PublicIP(context.Background()); got != "203.0.113.7" {
		t.Fatalf("PublicIP = %q", got)
	}
}

func TestHTTPIPLookupFailures(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer garbage.Close()

	cases := []struct {
		name   string
		lookup *HTTPIPLookup
	}{
		{"nil lookup", nil},
		{"empty url", NewHTTPIPLookup("")},
		{"http error", NewHTTPIPLookup(broken.URL)},
		{"bad payload", NewHTTPIPLookup(garbage.URL)},
		{"unreachable", NewHTTPIPLookup("http://127.0.0.1:0")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.lookup.PublicIP(context.Background()); got != fallbackIPAddress {
				t.Fatalf("PublicIP = %q, want %q", got, fallbackIPAddress)
			}
		})
	}
}
