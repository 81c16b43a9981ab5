package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                           "/",
		"/metrics":                                   "/metrics",
		"/v1/rbac/roles/01HV2Z6N4S8Y9Q3K7M5T1B2C3D":  "/v1/rbac/roles/:id",
		"/v1/users/01HV2Z6N4S8Y9Q3K7M5T1B2C3D/roles": "/v1/users/:id/roles",
		"/v1/auth/force-logout/42":                   "/v1/auth/force-logout/:id",
		"/v1/config/key/siteTitle":                   "/v1/config/key/siteTitle",
		"/v1/config?group=general":                   "/v1/config",
		"/uploads/images/1700000000000_ab12cd.png":   "/uploads/:file",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	Init()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	before := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/rbac/roles/:id", "404"))
	req := httptest.NewRequest(http.MethodGet, "/v1/rbac/roles/01HV2Z6N4S8Y9Q3K7M5T1B2C3D", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	after := counterValue(t, httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/rbac/roles/:id", "404"))
	if after-before != 1 {
		t.Fatalf("expected one counted request, got %v", after-before)
	}
}

func TestAuthCounters(t *testing.T) {
	Init()
	before := counterValue(t, gateDecisions.WithLabelValues("http", "forbidden"))
	RecordGateDecision("http", "forbidden")
	if got := counterValue(t, gateDecisions.WithLabelValues("http", "forbidden")) - before; got != 1 {
		t.Fatalf("gate counter delta=%v", got)
	}

	before = counterValue(t, loginAttempts.WithLabelValues(LoginRejected))
	RecordLogin(LoginRejected)
	if got := counterValue(t, loginAttempts.WithLabelValues(LoginRejected)) - before; got != 1 {
		t.Fatalf("login counter delta=%v", got)
	}
}

func TestNewLoggerUsesTsKey(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "json", "debug")
	l.Debug("hello", "k", "v")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if _, ok := entry["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", entry)
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("time key should be renamed")
	}
	if entry["msg"] != "hello" || entry["k"] != "v" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestSetLoggerSwapsShared(t *testing.T) {
	var buf bytes.Buffer
	prev := SetLogger(NewLogger(&buf, "json", "info"))
	defer SetLogger(prev)

	Logger().Info("swapped")
	if !strings.Contains(buf.String(), `"msg":"swapped"`) {
		t.Fatalf("shared logger not replaced: %q", buf.String())
	}
}
