package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInit_RequiresServiceName(t *testing.T) {
	if _, err := Init(context.Background(), "", ""); err == nil {
		t.Fatal("expected error without service name")
	}
}

func TestInit_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "tsupgrade", "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestExporterOptions(t *testing.T) {
	tests := []struct {
		endpoint string
		n        int
		wantErr  bool
	}{
		{"http://collector:4318", 2, false},
		{"https://collector:4318/custom/v1/traces", 2, false},
		{"http://collector:4318/v1/traces", 3, false},
		{"collector:4318", 2, false},
		{"http://", 0, true},
	}
	for _, tt := range tests {
		opts, err := exporterOptions(tt.endpoint)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.endpoint)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.endpoint, err)
			continue
		}
		if len(opts) != tt.n {
			t.Errorf("%s: got %d options, want %d", tt.endpoint, len(opts), tt.n)
		}
	}
}

func TestMiddleware_PassesThrough(t *testing.T) {
	h := Middleware("tsupgrade")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status: got %d", rec.Code)
	}
}
