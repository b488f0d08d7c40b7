package realtime

import "github.com/prometheus/client_golang/prometheus"

const namespace = "chainsync_realtime"

type metrics struct {
	framesIn      prometheus.Counter
	framesOut     *prometheus.CounterVec
	deliveries    prometheus.Counter
	dropped       prometheus.Counter
	evictions     prometheus.Counter
	rejected      *prometheus.CounterVec
	authFailures  prometheus.Counter
	protocolErrs  prometheus.Counter
	publishes     *prometheus.CounterVec
	disconnects   *prometheus.CounterVec
	connections   prometheus.GaugeFunc
	authenticated prometheus.GaugeFunc
	channels      prometheus.GaugeFunc
}

// newMetrics builds the collectors. Gauges are read from the registry and
// index at scrape time. A nil registerer leaves them unregistered.
func newMetrics(reg prometheus.Registerer, registry *Registry, index *ChannelIndex) *metrics {
	m := &metrics{
		framesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames read from clients",
		}),
		framesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames written to clients by kind",
		}, []string{"kind"}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Frames queued for delivery by the broadcast engine",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a send queue was full or the connection was closing",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capacity_evictions_total",
			Help:      "Connections evicted by capacity enforcement",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_connections_total",
			Help:      "Upgrade attempts refused by reason",
		}, []string{"reason"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Failed auth frames",
		}),
		protocolErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Inbound frames rejected as malformed or of unknown type",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish calls by result",
		}, []string{"result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Connection teardowns by close code",
		}, []string{"code"}),
		connections: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live connections",
		}, func() float64 { return float64(registry.Len()) }),
		authenticated: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "authenticated_connections",
			Help:      "Live authenticated connections",
		}, func() float64 { return float64(registry.CountAuthenticated()) }),
		channels: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels",
			Help:      "Channels with at least one subscriber",
		}, func() float64 { return float64(index.Len()) }),
	}

	if reg != nil {
		reg.MustRegister(
			m.framesIn, m.framesOut, m.deliveries, m.dropped, m.evictions,
			m.rejected, m.authFailures, m.protocolErrs, m.publishes, m.disconnects,
			m.connections, m.authenticated, m.channels,
		)
	}
	return m
}

func (m *metrics) recordWrite(kind outboundKind) {
	switch kind {
	case outFrame:
		m.framesOut.WithLabelValues("frame").Inc()
	case outPing:
		m.framesOut.WithLabelValues("ping").Inc()
	}
}
