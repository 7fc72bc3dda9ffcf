// Package metrics holds the prometheus collectors of a node.
package metrics

import (
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zhazhalaila/AsyncDKG/log"
)

var (
	// Registry holds every collector of the process.
	Registry = prometheus.NewRegistry()

	// MessagesReceived counts decoded inbound protocol messages.
	MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adkg_messages_received_total",
		Help: "Number of protocol messages received",
	}, []string{"protocol"})
	// MessagesDropped counts inbound messages discarded before processing.
	MessagesDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adkg_messages_dropped_total",
		Help: "Number of protocol messages dropped",
	}, []string{"protocol", "reason"})

	ABARounds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adkg_aba_rounds_total",
		Help: "Number of ABA rounds started",
	})
	ABADecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adkg_aba_decisions_total",
		Help: "Number of ABA decisions by value",
	}, []string{"value"})
	CoinEvalsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adkg_coin_evals_sent_total",
		Help: "Number of common coin evaluations broadcast",
	})

	// ACSSOutputs counts completed ACSS sessions, path is direct or recovered.
	ACSSOutputs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "adkg_acss_outputs_total",
		Help: "Number of ACSS sessions completed",
	}, []string{"path"})
	ACSSImplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adkg_acss_implicates_total",
		Help: "Number of valid implicate messages processed",
	})
	RBCDeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adkg_rbc_deliveries_total",
		Help: "Number of reliable broadcast payloads delivered",
	})

	BroadcastRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "adkg_broadcast_retries_total",
		Help: "Number of send attempts retried",
	})

	bindOnce sync.Once
)

func bindMetrics() {
	bindOnce.Do(func() {
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		Registry.MustRegister(
			MessagesReceived,
			MessagesDropped,
			ABARounds,
			ABADecisions,
			CoinEvalsSent,
			ACSSOutputs,
			ACSSImplicates,
			RBCDeliveries,
			BroadcastRetries,
		)
	})
}

// Handler serves the registry in the prometheus text format.
func Handler() http.Handler {
	bindMetrics()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Start serves /metrics on bind. The returned listener stops the server
// when closed.
func Start(bind string, logger log.Logger) (net.Listener, error) {
	l, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	s := http.Server{Handler: mux}
	go func() {
		logger.Debugw("metrics listener finished", "err", s.Serve(l))
	}()
	logger.Infow("metrics listener started", "at", l.Addr().String())
	return l, nil
}
