package metrics

import (
	"strings"
	"sync"

	"omnigate/internal/domain"
)

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// MessagesReceived counts canonical inbound messages per platform.
func MessagesReceived(p domain.Platform) *Counter {
	return Collector.Counter("omnigate_messages_received_total", "Inbound messages normalized", Labels("platform", string(p)))
}

// MessagesSent counts successful sends per platform.
func MessagesSent(p domain.Platform) *Counter {
	return Collector.Counter("omnigate_messages_sent_total", "Outgoing messages delivered", Labels("platform", string(p)))
}

// SendFailures counts failed sends per platform and error kind.
func SendFailures(p domain.Platform, kind string) *Counter {
	return Collector.Counter("omnigate_send_failures_total", "Outgoing messages that failed", Labels("platform", string(p), "kind", kind))
}

// Reconnects counts scheduled reconnect attempts.
func Reconnects(p domain.Platform) *Counter {
	return Collector.Counter("omnigate_reconnects_total", "Reconnect attempts scheduled", Labels("platform", string(p)))
}

// AuthChallenges counts pairing challenges issued.
func AuthChallenges(p domain.Platform) *Counter {
	return Collector.Counter("omnigate_auth_challenges_total", "Pairing challenges issued", Labels("platform", string(p)))
}

// SendLatency observes end-to-end send latency per platform.
func SendLatency(p domain.Platform) *Histogram {
	return Collector.Histogram("omnigate_send_latency_seconds", "Send latency in seconds", Labels("platform", string(p)), latencyBuckets)
}

// ConnectedInstances is the number of instances currently connected.
var ConnectedInstances = Collector.Gauge("omnigate_connected_instances", "Instances in the connected state", "")

// Recorder updates the gateway metrics from bus events.
type Recorder struct {
	mu        sync.Mutex
	connected map[string]bool
}

// NewRecorder creates a Recorder. Call Attach to start recording.
func NewRecorder() *Recorder {
	return &Recorder{connected: make(map[string]bool)}
}

// Attach subscribes the recorder to every topic on bus.
func (r *Recorder) Attach(bus domain.EventBus) string {
	return bus.Subscribe("*", r.Record, domain.SubscribeOptions{})
}

// Record applies one event.
func (r *Recorder) Record(e domain.Event) {
	switch e.Topic {
	case domain.TopicMessageReceived:
		MessagesReceived(e.Platform).Inc()
	case domain.TopicMessageSent:
		MessagesSent(e.Platform).Inc()
	case domain.TopicMessageFailed:
		kind := string(domain.KindUnknown)
		if out, ok := e.Payload.(domain.SendOutcome); ok && out.Result.ErrorCode != "" {
			kind, _, _ = strings.Cut(out.Result.ErrorCode, ":")
		}
		SendFailures(e.Platform, kind).Inc()
	case domain.TopicInstanceAuthChallenge:
		AuthChallenges(e.Platform).Inc()
	}

	st, ok := e.Payload.(domain.ConnectionStatus)
	if !ok {
		return
	}
	if st.State == domain.StateReconnecting {
		Reconnects(e.Platform).Inc()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.State == domain.StateConnected {
		r.connected[e.InstanceID] = true
	} else {
		delete(r.connected, e.InstanceID)
	}
	ConnectedInstances.Set(int64(len(r.connected)))
}
