// Package stats exposes Prometheus counters for the media transport and the
// relay. Counters are registered on the default registry; Serve optionally
// exports them over HTTP for debugging.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PacketsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "udp", Name: "packets_sent_total",
		Help: "Media packets transmitted (first transmissions only).",
	})
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "udp", Name: "bytes_sent_total",
		Help: "Serialized media bytes transmitted.",
	})
	Retransmits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "udp", Name: "retransmits_total",
		Help: "Packets retransmitted in response to a NACK.",
	})
	NACKsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "udp", Name: "nacks_received_total",
		Help: "NACKs received by the sender.",
	})
	NACKsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "udp", Name: "nacks_sent_total",
		Help: "NACKs emitted by the receiver.",
	})
	StallEscapes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "udp", Name: "stall_escapes_total",
		Help: "Times the receiver abandoned a gap after a prolonged stall.",
	})
	LateDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "udp", Name: "late_drops_total",
		Help: "Packets dropped because their seq was already delivered.",
	})
	RelayForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "relay", Name: "datagrams_forwarded_total",
		Help: "Datagrams forwarded by the relay, by direction.",
	}, []string{"direction"})
	RelayGaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smoothmirror", Subsystem: "relay", Name: "seq_gaps_total",
		Help: "Sequence gaps observed in forwarded media, by direction.",
	}, []string{"direction"})
)

// Serve exports /metrics on addr. Blocks; run it on its own goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
