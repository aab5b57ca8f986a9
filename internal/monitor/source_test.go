package monitor

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"CeleryPulse/internal/event"
	"CeleryPulse/internal/observability/metrics"
)

func newDropCounter(t *testing.T) (*prometheus.Registry, *metrics.Collectors) {
	t.Helper()
	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return reg, collectors
}

func malformedDrops(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "celerypulse_events_dropped_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "reason" && label.GetValue() == metrics.DropMalformed {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func kombuEnvelope(t *testing.T, inner string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"body":         base64.StdEncoding.EncodeToString([]byte(inner)),
		"content-type": "application/json",
		"properties":   map[string]any{"body_encoding": "base64"},
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return string(payload)
}

func TestRedisSourceHandleMessage(t *testing.T) {
	reg, collectors := newDropCounter(t)
	s := NewRedisSource(nil, 0, "", WithLogger(quietLogger()), WithCollectors(collectors))

	var got []event.Event
	collect := func(ev event.Event) { got = append(got, ev) }

	s.handleMessage("/0.celeryev/task.started",
		kombuEnvelope(t, `{"type":"task-started","uuid":"u1","timestamp":3}`), collect)
	if len(got) != 1 || got[0].Type != "task-started" || got[0].UUID != "u1" {
		t.Fatalf("unexpected events: %+v", got)
	}

	s.handleMessage("/0.celeryev/task.started", "not json", collect)
	s.handleMessage("/0.celeryev/task.started", `{"content-type":"application/json"}`, collect)
	if len(got) != 1 {
		t.Fatalf("malformed messages must not be delivered, got %+v", got)
	}
	if drops := malformedDrops(t, reg); drops != 2 {
		t.Fatalf("malformed drops = %v, want 2", drops)
	}
}

func TestRabbitMQSourceHandleDelivery(t *testing.T) {
	reg, collectors := newDropCounter(t)
	s := NewRabbitMQSource("amqp://localhost", WithLogger(quietLogger()), WithCollectors(collectors))

	var got []event.Event
	collect := func(ev event.Event) { got = append(got, ev) }

	s.handleDelivery(amqp.Delivery{
		ContentType: "application/json",
		RoutingKey:  "worker.heartbeat",
		Body:        []byte(`[{"type":"worker-heartbeat","hostname":"w1"},{"type":"task-received","uuid":"u2","name":"add"}]`),
	}, collect)
	if len(got) != 2 || got[0].Hostname != "w1" || got[1].Name != "add" {
		t.Fatalf("unexpected events: %+v", got)
	}

	s.handleDelivery(amqp.Delivery{ContentType: "application/x-python-serialize", Body: []byte("cpickle")}, collect)
	s.handleDelivery(amqp.Delivery{ContentType: "application/json", Body: []byte("{broken")}, collect)
	if len(got) != 2 {
		t.Fatalf("undecodable deliveries must not be delivered, got %+v", got)
	}
	if drops := malformedDrops(t, reg); drops != 2 {
		t.Fatalf("malformed drops = %v, want 2", drops)
	}
}
