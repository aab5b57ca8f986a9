package celerypulse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStatusDecodesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/api/v1/status" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(Status{
			Connected: true,
			Queues:    []QueueDepth{{Name: "default", Depth: 3}, {Name: "priority", Depth: 4}},
			Workers:   2,
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/admin", srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	st, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Connected || st.Workers != 2 || st.Backlog() != 7 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestHealthz(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy {
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "starting", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Healthz(context.Background()); err != nil {
		t.Fatalf("healthz: %v", err)
	}

	healthy = false
	err = client.Healthz(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "starting" {
		t.Fatalf("expected APIError 503, got %v", err)
	}
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:9808", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
