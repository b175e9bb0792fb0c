package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPResolver(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/resources/venue_1/tenant":
			json.NewEncoder(w).Encode(map[string]string{"tenant_id": "tenant-a"})
		case "/internal/resources/venue_anon/tenant":
			json.NewEncoder(w).Encode(map[string]string{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	r := NewHTTPResolver(server.URL)
	ctx := context.Background()

	owner, err := r.ResolveOwnerTenant(ctx, "venue_1")
	if err != nil {
		t.Fatalf("ResolveOwnerTenant() error = %v", err)
	}
	if owner != "tenant-a" {
		t.Errorf("owner = %q, want tenant-a", owner)
	}

	if _, err := r.ResolveOwnerTenant(ctx, "venue_missing"); !errors.Is(err, ErrResourceUnknown) {
		t.Errorf("404 error = %v, want ErrResourceUnknown", err)
	}

	if _, err := r.ResolveOwnerTenant(ctx, "venue_anon"); err == nil {
		t.Error("empty tenant_id in response should return an error")
	}
}

func TestHTTPResolver_ServerErrorIsNotResourceUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	r := NewHTTPResolver(server.URL)
	_, err := r.ResolveOwnerTenant(context.Background(), "venue_1")
	if err == nil {
		t.Fatal("5xx should return an error")
	}
	if errors.Is(err, ErrResourceUnknown) {
		t.Errorf("5xx error = %v; must not look like a missing resource", err)
	}
}
