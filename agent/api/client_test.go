package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/monorkin/device-fleet-manager/internal/commands"
	"github.com/monorkin/device-fleet-manager/internal/models"
	"github.com/monorkin/device-fleet-manager/internal/registry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "agent-token")
	client.MaxElapsedTime = 5 * time.Second
	return client
}

func TestPollCommandsSendsTokenAndDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer agent-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("serial_number"); got != "SN 1" {
			t.Errorf("serial_number = %q", got)
		}
		json.NewEncoder(w).Encode([]models.Command{{ID: "c1", Kind: models.KindReboot, Status: models.CommandSent}})
	})

	cmds, err := client.PollCommands(context.Background(), "SN 1")
	if err != nil {
		t.Fatalf("PollCommands() error = %v", err)
	}
	if len(cmds) != 1 || cmds[0].ID != "c1" {
		t.Errorf("PollCommands() = %+v", cmds)
	}
}

func TestRetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	if err := client.Heartbeat(context.Background(), "SN1"); err != nil {
		t.Fatalf("Heartbeat() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("server saw %d calls, want 3", calls.Load())
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{"error": "command is not awaiting a result", "kind": "conflict"})
	})

	err := client.ReportResult(context.Background(), commands.ResultReport{CommandID: "c1", Success: true})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("ReportResult() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Kind != "conflict" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1", calls.Load())
	}
}

func TestEnrollSendsTokenWithReport(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "secret" || body["serial_number"] != "SN1" || body["device_name"] != "Matriz-01" {
			t.Errorf("enroll body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]any{"commands_enqueued": 2, "command_ids": []string{"a", "b"}})
	})

	report := registry.Report{SerialNumber: "SN1", Name: registry.String("Matriz-01")}
	enrollment, err := client.Enroll(context.Background(), "secret", report)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	if enrollment.CommandsEnqueued != 2 {
		t.Errorf("CommandsEnqueued = %d", enrollment.CommandsEnqueued)
	}
}

func TestUnknownServer(t *testing.T) {
	client := NewClient("", "")
	if err := client.Heartbeat(context.Background(), "SN1"); err == nil {
		t.Error("Heartbeat() without a server address succeeded")
	}
}
