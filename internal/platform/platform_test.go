package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientGetAffiliateAppID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/experiences/exp-1/affiliate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %s", got)
		}
		json.NewEncoder(w).Encode(map[string]string{"affiliate_app_id": "app_123"})
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	id, err := c.GetAffiliateAppID(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "app_123" {
		t.Errorf("expected app_123, got %s", id)
	}
}

func TestClientGetExperienceAndRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/experiences/exp-1":
			json.NewEncoder(w).Encode(Experience{ID: "exp-1", Name: "Growth Course", CompanyID: "co-9"})
		case "/companies/co-9/route":
			json.NewEncoder(w).Encode(map[string]string{"route": "growth-co"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	exp, err := c.GetExperience(context.Background(), "exp-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.CompanyID != "co-9" || exp.Name != "Growth Course" {
		t.Errorf("unexpected experience: %+v", exp)
	}

	route, err := c.GetCompanyRoute(context.Background(), "co-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if route != "growth-co" {
		t.Errorf("expected growth-co, got %s", route)
	}
}

func TestClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if _, err := c.GetAffiliateAppID(context.Background(), "exp-1"); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestClientRecordInterest(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/interest" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	if err := c.RecordInterest(context.Background(), "exp-1", "funnel-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotBody["experience_id"] != "exp-1" || gotBody["funnel_id"] != "funnel-1" {
		t.Errorf("unexpected body: %v", gotBody)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("PLATFORM_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error when API key is missing")
	}
}
