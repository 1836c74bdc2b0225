package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"omnigate/internal/domain"
)

func TestLabels_SortedAndEscaped(t *testing.T) {
	got := Labels("platform", "discord", "instance", `dc"1`)
	want := `instance="dc\"1",platform="discord"`
	if got != want {
		t.Errorf("Labels = %s, want %s", got, want)
	}
	if Labels() != "" {
		t.Error("no labels should render empty")
	}
}

func TestCollector_SameSeriesReused(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "x", Labels("p", "a"))
	b := c.Counter("x_total", "x", Labels("p", "a"))
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Errorf("expected shared series, got %d", a.Value())
	}
}

func TestCollector_Render(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("req_total", "Requests", Labels("platform", "whatsapp")).Add(4)
	c.Gauge("conn", "Connections", "").Set(2)
	h := c.Histogram("lat_seconds", "Latency", "", []float64{1, 0.1})
	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(3)

	out := c.Render()
	for _, want := range []string{
		"# TYPE req_total counter",
		`req_total{platform="whatsapp"} 4`,
		"conn 2",
		`lat_seconds_bucket{le="0.1"} 1`,
		`lat_seconds_bucket{le="1"} 2`,
		`lat_seconds_bucket{le="+Inf"} 3`,
		"lat_seconds_count 3",
		"omnigate_uptime_seconds",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "conn 2") > strings.Index(out, "req_total{") {
		t.Error("families should be sorted by name")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewMetricsCollector()
	rec := httptest.NewRecorder()
	c.Handler()(rec, httptest.NewRequest("GET", "/metrics", nil))
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %s", ct)
	}
}

func TestRecorder_TracksConnectedInstances(t *testing.T) {
	r := NewRecorder()
	status := func(id string, s domain.ConnectionState) domain.Event {
		st := domain.ConnectionStatus{InstanceID: id, Platform: domain.PlatformDiscord, State: s}
		return domain.Event{Topic: st.Topic(), InstanceID: id, Platform: domain.PlatformDiscord, Payload: st}
	}

	before := Reconnects(domain.PlatformDiscord).Value()
	r.Record(status("a", domain.StateConnected))
	r.Record(status("b", domain.StateConnected))
	r.Record(status("a", domain.StateReconnecting))

	if got := ConnectedInstances.Value(); got != 1 {
		t.Errorf("connected instances = %d, want 1", got)
	}
	if Reconnects(domain.PlatformDiscord).Value() != before+1 {
		t.Error("reconnect not counted")
	}
}

func TestRecorder_FailureKind(t *testing.T) {
	r := NewRecorder()
	ctr := SendFailures(domain.PlatformTelegram, "rate_limited")
	before := ctr.Value()
	r.Record(domain.Event{
		Topic:    domain.TopicMessageFailed,
		Platform: domain.PlatformTelegram,
		Payload:  domain.SendOutcome{Result: domain.SendResult{ErrorCode: "rate_limited:429"}},
	})
	if ctr.Value() != before+1 {
		t.Error("failure not counted under its kind")
	}
}
