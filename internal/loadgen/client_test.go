package loadgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/roof-guardian/monitoring-api/internal/telemetry"
)

type recordedRequest struct {
	path string
	body map[string]interface{}
}

func newRecordingServer(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()

	var mu sync.Mutex
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Request body not JSON: %v", err)
		}
		mu.Lock()
		requests = append(requests, recordedRequest{path: r.URL.Path, body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedRequest, len(requests))
		copy(out, requests)
		return out
	}
}

func TestClientPostsTelemetry(t *testing.T) {
	server, recorded := newRecordingServer(t, http.StatusAccepted)
	client := NewClient(server.URL, time.Second)
	ctx := context.Background()

	if err := client.ReportError(ctx, telemetry.ErrorReport{ComponentName: "Foo", Message: "boom"}); err != nil {
		t.Fatalf("ReportError failed: %v", err)
	}
	if err := client.ReportMetric(ctx, telemetry.PerformanceMetric{
		ComponentName: "Foo",
		MetricType:    telemetry.MetricTypeRender,
		Value:         42,
	}); err != nil {
		t.Fatalf("ReportMetric failed: %v", err)
	}
	if err := client.RegisterComponent(ctx, "Foo"); err != nil {
		t.Fatalf("RegisterComponent failed: %v", err)
	}

	requests := recorded()
	if len(requests) != 3 {
		t.Fatalf("Expected 3 requests, got %d", len(requests))
	}
	wantPaths := []string{
		"/api/v1/telemetry/errors",
		"/api/v1/telemetry/metrics",
		"/api/v1/recovery/components",
	}
	for i, want := range wantPaths {
		if requests[i].path != want {
			t.Errorf("requests[%d].path = %s, want %s", i, requests[i].path, want)
		}
	}
	if requests[0].body["message"] != "boom" {
		t.Errorf("Error payload lost message: %v", requests[0].body)
	}
	if requests[1].body["value"] != 42.0 {
		t.Errorf("Metric payload lost value: %v", requests[1].body)
	}
	if requests[2].body["name"] != "Foo" {
		t.Errorf("Registration payload lost name: %v", requests[2].body)
	}
}

func TestClientReportsServerErrors(t *testing.T) {
	server, _ := newRecordingServer(t, http.StatusBadRequest)
	client := NewClient(server.URL, time.Second)

	if err := client.ReportError(context.Background(), telemetry.ErrorReport{ComponentName: "Foo"}); err == nil {
		t.Error("Expected error for 400 response")
	}
}
