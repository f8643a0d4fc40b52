package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/monorkin/device-fleet-manager/internal/clock"
	"github.com/monorkin/device-fleet-manager/internal/config"
	"github.com/monorkin/device-fleet-manager/internal/database/dbtest"
	"github.com/monorkin/device-fleet-manager/internal/fleet"
	"github.com/monorkin/device-fleet-manager/internal/models"
)

const (
	adminToken = "admin-token-0123456789"
	userToken  = "user-token-0123456789"
)

func newTestServer(t *testing.T, mutate func(*config.Settings)) *Server {
	t.Helper()

	settings := config.DefaultSettings()
	settings.PublicURL = "https://fleet.example.com"
	settings.Operators = []config.Operator{
		{Name: "admin", Token: adminToken, Role: "admin"},
		{Name: "matriz-ops", Token: userToken, Role: "user", Sectors: "matriz"},
	}
	if mutate != nil {
		mutate(settings)
	}
	if err := settings.Validate(); err != nil {
		t.Fatalf("settings: %v", err)
	}

	services := fleet.New(dbtest.Open(t), fleet.Options{
		Clock: clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
	})
	return New(settings, services, nil)
}

func do(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func report(serial, name string) map[string]any {
	return map[string]any{"serial_number": serial, "device_name": name, "battery": 80}
}

func TestHealthNeedsNoToken(t *testing.T) {
	s := newTestServer(t, nil)

	if rec := do(t, s, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"unknown", "not-a-real-token-at-all", http.StatusUnauthorized},
		{"admin", adminToken, http.StatusOK},
		{"scoped user", userToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, s, http.MethodGet, "/api/devices/", tt.token, nil); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestDeviceReportStatuses(t *testing.T) {
	s := newTestServer(t, nil)

	if rec := do(t, s, http.MethodPost, "/api/devices/data", adminToken, report("SN1", "Matriz-01")); rec.Code != http.StatusOK {
		t.Fatalf("report = %d: %s", rec.Code, rec.Body.String())
	}

	bad := report("SN2", "Matriz-02")
	bad["battery"] = 150
	rec := do(t, s, http.MethodPost, "/api/devices/data", adminToken, bad)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid battery = %d, want 400", rec.Code)
	}
	if body := decode[errorBody](t, rec); body.Kind != "validation" {
		t.Errorf("kind = %q, want validation", body.Kind)
	}

	rec = do(t, s, http.MethodGet, "/api/devices/SN1", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get = %d", rec.Code)
	}
	if device := decode[models.Device](t, rec); device.Name != "Matriz-01" {
		t.Errorf("device_name = %q", device.Name)
	}

	if rec := do(t, s, http.MethodGet, "/api/devices/NOPE", adminToken, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown device = %d, want 404", rec.Code)
	}

	if rec := do(t, s, http.MethodPost, "/api/devices/data", adminToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("empty body = %d, want 400", rec.Code)
	}
}

func TestScopedOperator(t *testing.T) {
	s := newTestServer(t, nil)

	do(t, s, http.MethodPost, "/api/devices/data", adminToken, report("SN1", "Matriz-01"))
	do(t, s, http.MethodPost, "/api/devices/data", adminToken, report("SN2", "Filial-01"))

	rec := do(t, s, http.MethodGet, "/api/devices/", userToken, nil)
	devices := decode[[]models.Device](t, rec)
	if len(devices) != 1 || devices[0].SerialNumber != "SN1" {
		t.Errorf("scoped list = %+v, want only SN1", devices)
	}

	if rec := do(t, s, http.MethodGet, "/api/devices/SN2", userToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("out of scope get = %d, want 403", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/devices/SN2", userToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("out of scope delete = %d, want 403", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/bssid/", userToken, map[string]string{"mac_address_radio": "aa:bb:cc:dd:ee:ff", "sector": "S", "floor": "1"}); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin bssid create = %d, want 403", rec.Code)
	}
}

func TestScopedOperatorCannotTakeOverDevices(t *testing.T) {
	s := newTestServer(t, nil)

	if rec := do(t, s, http.MethodPost, "/api/devices/data", adminToken, report("S1", "lobby-1")); rec.Code != http.StatusOK {
		t.Fatalf("seed = %d: %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, s, http.MethodDelete, "/api/devices/S1", userToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("delete before rename = %d, want 403", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/devices/data", userToken, report("S1", "matriz-stolen")); rec.Code != http.StatusForbidden {
		t.Errorf("rename into scope = %d, want 403", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/devices/heartbeat", userToken, map[string]string{"serial_number": "S1"}); rec.Code != http.StatusForbidden {
		t.Errorf("heartbeat = %d, want 403", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/provisioning/complete", userToken, map[string]any{"serial_number": "S1", "success": false, "error_message": "wiped"}); rec.Code != http.StatusForbidden {
		t.Errorf("complete = %d, want 403", rec.Code)
	}
	if rec := do(t, s, http.MethodDelete, "/api/devices/S1", userToken, nil); rec.Code != http.StatusForbidden {
		t.Errorf("delete after rename = %d, want 403", rec.Code)
	}

	rec := do(t, s, http.MethodGet, "/api/devices/S1", adminToken, nil)
	device := decode[models.Device](t, rec)
	if device.Name != "lobby-1" || device.ProvisioningStatus == models.ProvisioningFailed {
		t.Errorf("device changed by refused requests: %+v", device)
	}

	rec = do(t, s, http.MethodGet, "/api/devices/", userToken, nil)
	if devices := decode[[]models.Device](t, rec); len(devices) != 0 {
		t.Errorf("scoped list = %+v, want none", devices)
	}
}

func TestCommandRoundTrip(t *testing.T) {
	s := newTestServer(t, nil)
	do(t, s, http.MethodPost, "/api/devices/data", adminToken, report("SN1", "Matriz-01"))

	rec := do(t, s, http.MethodPost, "/api/devices/executeCommand", adminToken, map[string]any{
		"serial_number": "SN1",
		"command":       "reboot",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute = %d: %s", rec.Code, rec.Body.String())
	}
	id := decode[map[string]any](t, rec)["command_id"].(string)

	rec = do(t, s, http.MethodGet, "/api/devices/commands?serial_number=SN1", adminToken, nil)
	polled := decode[[]models.Command](t, rec)
	if len(polled) != 1 || polled[0].ID != id || polled[0].Status != models.CommandSent {
		t.Fatalf("poll = %+v", polled)
	}

	rec = do(t, s, http.MethodGet, "/api/devices/commands?serial_number=SN1", adminToken, nil)
	if again := decode[[]models.Command](t, rec); len(again) != 0 {
		t.Errorf("second poll returned %d commands", len(again))
	}

	result := map[string]any{"command_id": id, "serial_number": "SN1", "success": true, "result": "rebooted"}
	if rec := do(t, s, http.MethodPost, "/api/devices/command-result", adminToken, result); rec.Code != http.StatusOK {
		t.Fatalf("result = %d: %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodPost, "/api/devices/command-result", adminToken, result); rec.Code != http.StatusConflict {
		t.Errorf("repeated result = %d, want 409", rec.Code)
	}

	if rec := do(t, s, http.MethodGet, "/api/devices/commands/history?status=bogus", adminToken, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", rec.Code)
	}
}

func TestEnrollment(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodPost, "/api/config-profiles/", adminToken, map[string]any{
		"name": "kiosk",
		"settings": map[string]any{
			"wifi_configs": []map[string]any{{"ssid": "corp", "password": "secret"}},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create profile = %d: %s", rec.Code, rec.Body.String())
	}

	if rec := do(t, s, http.MethodPost, "/api/provisioning/generate-token", userToken, map[string]any{"organization": "acme", "config_profile": "kiosk"}); rec.Code != http.StatusForbidden {
		t.Errorf("non-admin generate = %d, want 403", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/provisioning/generate-token", adminToken, map[string]any{"organization": "acme", "config_profile": "kiosk"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate = %d: %s", rec.Code, rec.Body.String())
	}
	issued := decode[generateTokenResponse](t, rec)
	if want := "https://fleet.example.com/provision/" + issued.Token; issued.ProvisioningURL != want {
		t.Errorf("provisioning_url = %q, want %q", issued.ProvisioningURL, want)
	}

	enroll := report("SN9", "Matriz-09")
	enroll["token"] = issued.Token
	rec = do(t, s, http.MethodPost, "/api/provisioning/enroll", "", enroll)
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll = %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]any](t, rec)["commands_enqueued"]; got != float64(1) {
		t.Errorf("commands_enqueued = %v, want 1", got)
	}

	enroll["serial_number"] = "SN10"
	if rec := do(t, s, http.MethodPost, "/api/provisioning/enroll", "", enroll); rec.Code != http.StatusUnauthorized {
		t.Errorf("exhausted token = %d, want 401", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/provisioning/tokens/"+issued.Token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("lookup = %d", rec.Code)
	}
	if state := decode[map[string]any](t, rec)["state"]; state != "exhausted" {
		t.Errorf("state = %v, want exhausted", state)
	}
	if strings.Contains(rec.Body.String(), `"token"`) {
		t.Error("token lookup echoes the secret")
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(settings *config.Settings) {
		settings.RateLimits.Read = config.RateLimit{Requests: 2, Window: time.Hour}
	})

	for i := 0; i < 2; i++ {
		if rec := do(t, s, http.MethodGet, "/api/devices/", adminToken, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	if rec := do(t, s, http.MethodGet, "/api/devices/", adminToken, nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", rec.Code)
	}

	// Modifications have their own budget.
	if rec := do(t, s, http.MethodPost, "/api/devices/data", adminToken, report("SN1", "Matriz-01")); rec.Code != http.StatusOK {
		t.Errorf("modify after read limit = %d, want 200", rec.Code)
	}
}
