package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pingpong_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Room metrics
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingpong_rooms_active",
			Help: "Rooms currently registered on this server",
		},
	)

	MembersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingpong_members_connected",
			Help: "Members currently joined to a room on this server",
		},
	)

	MessagesBroadcast = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_messages_broadcast_total",
			Help: "Total MESSAGE events broadcast to local members",
		},
		[]string{"origin"}, // "local" or "remote"
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_commands_total",
			Help: "Inbound commands by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	SendsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pingpong_sends_dropped_total",
			Help: "Outbound events dropped because the connection was closed or its queue was full",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pingpong_websocket_connections",
			Help: "Open WebSocket connections",
		},
	)

	// Consensus metrics
	ProposalsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pingpong_proposals_created_total",
			Help: "Total proposals opened on this server",
		},
	)

	ProposalsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_proposals_resolved_total",
			Help: "Total proposals resolved by this server",
		},
		[]string{"status"},
	)

	VotesCast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pingpong_votes_cast_total",
			Help: "Total votes recorded from local members",
		},
	)

	// Bus metrics
	BusPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_bus_envelopes_published_total",
			Help: "Envelopes published to the message bus",
		},
		[]string{"event"},
	)

	BusReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_bus_envelopes_received_total",
			Help: "Envelopes from other servers applied to local rooms",
		},
		[]string{"event"},
	)

	BusDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_bus_envelopes_dropped_total",
			Help: "Envelopes discarded before reaching a room",
		},
		[]string{"reason"}, // "decode", "closed", "stale"
	)

	BusErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_bus_errors_total",
			Help: "Message bus operation failures",
		},
		[]string{"op"},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pingpong_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pingpong_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pingpong_store_latency_seconds",
			Help:    "DataStore query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"backend"},
	)
)
