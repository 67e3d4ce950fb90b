package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"transitfeed/internal/logging"
)

const prefix = "transitfeed_"

func mustRegister[C prometheus.Collector](collector C) C {
	prometheus.MustRegister(collector)
	return collector
}

var EventsIngested = mustRegister(prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "events_ingested_total",
		Help: "Number of events whose data and consistency records were both acknowledged",
	},
))

var RecordsSent = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "records_sent_total",
		Help: "Number of produce calls (by topic and result)",
	},
	[]string{"topic", "result"},
))

var ParseErrors = mustRegister(prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "parse_errors_total",
		Help: "Number of feed lines or entries skipped because they could not be parsed",
	},
))

var ProvisionPolls = mustRegister(prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "provision_polls_total",
		Help: "Number of metadata polls (by topic) made while waiting for topic creation to converge",
	},
	[]string{"topic"},
))

var LogicalClock = mustRegister(prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "logical_clock",
		Help: "Current value of the ingestion logical clock",
	},
))

// Server serves /metrics until Stop is called.
type Server struct {
	srv *http.Server
}

// Expose starts the metrics listener in the background. A port of 0
// disables it and returns nil.
func Expose(port int) *Server {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{srv: &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics listener stopped", "port", port, "err", err)
		}
	}()
	return s
}

func (s *Server) Stop() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
