package metrics

import "github.com/prometheus/client_golang/prometheus"

// Packet classifications used as the "kind" label of meshchess_packets_total.
const (
	KindChat        = "chat"
	KindSubprotocol = "subprotocol"
	KindTraceroute  = "traceroute"
	KindDropped     = "dropped"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	packets        *prometheus.CounterVec
	sends          *prometheus.CounterVec
	gameEvents     *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	duplicates     prometheus.Counter
	knownNodes     prometheus.Gauge
	brokerClients  prometheus.Gauge
	traceRequests  prometheus.Counter
	traceResponses prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshchess_packets_total",
			Help: "Inbound mesh packets by classification.",
		}, []string{"kind"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshchess_sends_total",
			Help: "Outbound text messages by result.",
		}, []string{"result"}),
		gameEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshchess_game_events_total",
			Help: "Game protocol messages handled, by kind and direction.",
		}, []string{"kind", "direction"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshchess_game_rejected_total",
			Help: "Inbound game protocol messages discarded, by reason.",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchess_duplicate_packets_total",
			Help: "Packets dropped because they were already seen via another gateway.",
		}),
		knownNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshchess_known_nodes",
			Help: "Nodes currently in the node database.",
		}),
		brokerClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshchess_broker_clients",
			Help: "Clients connected to the embedded MQTT broker.",
		}),
		traceRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchess_trace_requests_total",
			Help: "Traceroute requests sent.",
		}),
		traceResponses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "meshchess_trace_responses_total",
			Help: "Traceroute responses recorded.",
		}),
	}

	reg.MustRegister(
		m.packets,
		m.sends,
		m.gameEvents,
		m.rejected,
		m.duplicates,
		m.knownNodes,
		m.brokerClients,
		m.traceRequests,
		m.traceResponses,
	)
	return m
}

func (m *Metrics) RecordPacket(kind string) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordSend(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sends.WithLabelValues("error").Inc()
		return
	}
	m.sends.WithLabelValues("ok").Inc()
}

func (m *Metrics) RecordGameEvent(kind string, inbound bool) {
	if m == nil {
		return
	}
	direction := "out"
	if inbound {
		direction = "in"
	}
	m.gameEvents.WithLabelValues(kind, direction).Inc()
}

func (m *Metrics) RecordRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDuplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

func (m *Metrics) SetKnownNodes(n int) {
	if m == nil {
		return
	}
	m.knownNodes.Set(float64(n))
}

func (m *Metrics) SetBrokerClients(n int) {
	if m == nil {
		return
	}
	m.brokerClients.Set(float64(n))
}

func (m *Metrics) RecordTraceRequest() {
	if m == nil {
		return
	}
	m.traceRequests.Inc()
}

func (m *Metrics) RecordTraceResponse() {
	if m == nil {
		return
	}
	m.traceResponses.Inc()
}
