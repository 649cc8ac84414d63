package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"alertrelay/internal/config"
	"alertrelay/internal/notifications/core"
	"alertrelay/internal/types"
)

func testConfig() *config.Config {
	cfg := &config.Config{Environment: "local"}
	cfg.Webhook.Timeout = time.Second
	cfg.Webhook.UserAgent = "test/1.0"
	cfg.Dispatch.ImmediateAttempts = 3
	cfg.Dispatch.ImmediateBackoff = 200 * time.Millisecond
	cfg.Dispatch.SubmitterWorkers = 1
	cfg.Dispatch.SubmitterQueueSize = 4
	cfg.Dispatch.ChannelBurst = 1
	cfg.Retry.BaseDelay = 120 * time.Second
	cfg.Retry.MaxDelay = time.Hour
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.Schedule = "@every 30s"
	cfg.Retry.StaleAfter = 10 * time.Minute
	cfg.Email.FromAddress = "alerts@example.com"
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdaptLogger_With(t *testing.T) {
	var buf bytes.Buffer
	log := AdaptLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	log.With("rule_id", "r1").Warn("channel failed", "channel_id", "c1")

	out := buf.String()
	for _, want := range []string{`"level":"WARN"`, `"rule_id":"r1"`, `"channel_id":"c1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}

func TestNewSenders_EmailOnlyWithKey(t *testing.T) {
	cfg := testConfig()

	reg, err := NewSenders(cfg, discard())
	if err != nil {
		t.Fatalf("NewSenders: %v", err)
	}
	if _, ok := reg.Lookup(types.ChannelEmail); ok {
		t.Error("email sender registered without an API key")
	}
	for _, ct := range []types.ChannelType{types.ChannelSlack, types.ChannelTeams, types.ChannelWebhook} {
		if _, ok := reg.Lookup(ct); !ok {
			t.Errorf("%s sender missing", ct)
		}
	}

	cfg.Email.SendGridAPIKey = "SG.test"
	reg, err = NewSenders(cfg, discard())
	if err != nil {
		t.Fatalf("NewSenders: %v", err)
	}
	if _, ok := reg.Lookup(types.ChannelEmail); !ok {
		t.Error("email sender missing with an API key")
	}
}

func TestRetryPolicy_FromConfig(t *testing.T) {
	p := RetryPolicy(testConfig().Retry)
	if got := core.CalculateNextRetry(p, 0); got != 120*time.Second {
		t.Errorf("first delay = %v", got)
	}
	if got := core.CalculateNextRetry(p, 10); got != time.Hour {
		t.Errorf("capped delay = %v", got)
	}
}

func TestNewMetrics_Backends(t *testing.T) {
	cfg := testConfig()

	cfg.Observability.MetricsBackend = "none"
	m, err := NewMetrics(context.Background(), cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Recorder.(core.NoopMetrics); !ok || m.Handler != nil {
		t.Errorf("none backend = %+v", m)
	}

	cfg.Observability.MetricsBackend = "prometheus"
	m, err = NewMetrics(context.Background(), cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	if m.Handler == nil || m.Registry == nil {
		t.Fatal("prometheus backend must expose a handler")
	}
	m.Recorder.RecordDelivery(context.Background(), types.ChannelSlack, core.MetricSuccess)
	if n, err := testutil.GatherAndCount(m.Registry, "alertrelay_delivery_attempts_total"); err != nil || n != 1 {
		t.Errorf("delivery series = %d, %v", n, err)
	}
}

func TestHTTPMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.RecordRequest("POST", "/v1/notifications/trigger", "200", 15*time.Millisecond)
	m.RecordRequest("POST", "/v1/notifications/trigger", "200", 5*time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("POST", "/v1/notifications/trigger", "200")); got != 2 {
		t.Errorf("request count = %v, want 2", got)
	}
}

type noStores struct{}

func (noStores) ListEnabledForEvent(context.Context, string, types.EventType) ([]types.NotificationRule, error) {
	return nil, nil
}
func (noStores) GetByID(context.Context, string) (*types.NotificationRule, error) { return nil, nil }

func TestNewSubmitter_InProcess(t *testing.T) {
	cfg := testConfig()
	reg, err := NewSenders(cfg, discard())
	if err != nil {
		t.Fatal(err)
	}
	e := NewEngine(cfg, Stores{Rules: noStores{}}, reg, nil, nil, AdaptLogger(discard()))

	sub, err := NewSubmitter(context.Background(), cfg, e)
	if err != nil {
		t.Fatalf("NewSubmitter: %v", err)
	}
	if _, ok := sub.Submitter.(*core.AsyncSubmitter); !ok {
		t.Fatalf("submitter = %T, want *core.AsyncSubmitter", sub.Submitter)
	}

	event := types.NotificationEvent{Type: types.EventAgentOffline, OrganizationID: "o", ResourceType: types.ResourceAgent, ResourceID: "a1"}
	if err := sub.Submit(context.Background(), event); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sub.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}
