// Package metrics exposes Prometheus collectors for the sync engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pulsesync"

type Metrics struct {
	sends     *prometheus.CounterVec
	uploads   *prometheus.CounterVec
	mutations *prometheus.CounterVec
	push      *prometheus.CounterVec
	pages     *prometheus.CounterVec
	drops     *prometheus.CounterVec
	openRooms prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Send attempts by outcome.",
		}, []string{"result"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Attachment uploads by outcome.",
		}, []string{"result"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_mutations_total",
			Help:      "Edits and revokes by outcome.",
		}, []string{"op", "result"}),
		push: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_events_total",
			Help:      "Push events applied, by type.",
		}, []string{"type"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_pages_total",
			Help:      "History page loads by outcome.",
		}, []string{"result"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages discarded for lacking any identity, by source.",
		}, []string{"source"}),
		openRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_rooms",
			Help:      "Rooms with messages held in memory.",
		}),
	}
	reg.MustRegister(m.sends, m.uploads, m.mutations, m.push, m.pages, m.drops, m.openRooms)
	return m
}

func (m *Metrics) Send(result string) {
	if m != nil {
		m.sends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Upload(result string) {
	if m != nil {
		m.uploads.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Mutation(op, result string) {
	if m != nil {
		m.mutations.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) Push(eventType string) {
	if m != nil {
		m.push.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) Page(result string) {
	if m != nil {
		m.pages.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Drop(source string) {
	if m != nil {
		m.drops.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) OpenRooms(n int) {
	if m != nil {
		m.openRooms.Set(float64(n))
	}
}
