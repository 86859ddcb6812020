package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Tick metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studytick_ticks_total",
			Help: "Total one-second ticks counted while running",
		},
	)

	// Accounting metrics
	PointsAwarded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studytick_points_awarded_total",
			Help: "Total points granted through the debounced writer",
		},
	)

	FlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytick_flushes_total",
			Help: "Total session flushes by outcome",
		},
		[]string{"outcome"},
	)

	GroupContributions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studytick_group_contributions_total",
			Help: "Total per-group daily time contributions sent",
		},
	)

	RemoteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytick_remote_errors_total",
			Help: "Remote accounting call failures by operation",
		},
		[]string{"op"},
	)

	// Cache metrics
	CacheFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studytick_cache_fallbacks_total",
			Help: "Times the durable cache was unavailable and counting degraded to memory",
		},
	)

	// Session metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studytick_active_sessions",
			Help: "Number of active accounting sessions",
		},
	)

	SubSessions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studytick_sub_sessions_total",
			Help: "Fresh sub-sessions started after a long background gap",
		},
	)

	BeaconsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studytick_beacons_sent_total",
			Help: "Best-effort termination beacons by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TicksTotal,
		PointsAwarded,
		FlushesTotal,
		GroupContributions,
		RemoteErrors,
		CacheFallbacks,
		ActiveSessions,
		SubSessions,
		BeaconsSent,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
