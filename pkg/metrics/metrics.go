package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_connections_total",
			Help: "Total number of connections established",
		},
		[]string{"server"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pop3d_connections_current",
			Help: "Current number of active connections",
		},
		[]string{"server"},
	)

	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_connections_rejected_total",
			Help: "Connections refused by the connection limiter",
		},
		[]string{"server"},
	)

	AuthenticatedConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pop3d_authenticated_connections_current",
			Help: "Current number of authenticated connections",
		},
		[]string{"server"},
	)

	ConnectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pop3d_connection_duration_seconds",
			Help:    "Duration of connections in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	Disconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_disconnects_total",
			Help: "Connection terminations by reason",
		},
		[]string{"server", "reason"},
	)

	AuthenticationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_authentication_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"server", "method", "result"},
	)
)

// Protocol metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_commands_total",
			Help: "Commands processed by verb and outcome",
		},
		[]string{"server", "command", "status"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pop3d_command_duration_seconds",
			Help:    "Time spent handling a command, including backend calls",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"server", "command"},
	)

	InvalidCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_invalid_commands_total",
			Help: "Unparseable command lines received",
		},
		[]string{"server"},
	)

	MessagesRetrieved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_messages_retrieved_total",
			Help: "Messages sent by RETR or TOP",
		},
		[]string{"server", "command"},
	)

	MessagesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_messages_deleted_total",
			Help: "Messages removed when a session committed its deletions",
		},
		[]string{"server"},
	)

	BytesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_message_bytes_sent_total",
			Help: "Message octets written by RETR and TOP",
		},
		[]string{"server"},
	)
)

// Storage metrics
var (
	DBQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_db_queries_total",
			Help: "Total number of database queries executed",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pop3d_db_query_duration_seconds",
			Help:    "Duration of database queries in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_s3_operations_total",
			Help: "Total number of S3 operations",
		},
		[]string{"operation", "status"},
	)

	S3OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pop3d_s3_operation_duration_seconds",
			Help:    "Duration of S3 operations in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"operation"},
	)

	StorageOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_storage_operation_errors_total",
			Help: "S3 operation failures by class",
		},
		[]string{"operation", "error_type"},
	)

	AccountsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pop3d_accounts_total",
			Help: "Total number of accounts",
		},
	)

	StoredMessagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pop3d_stored_messages_total",
			Help: "Messages waiting in all maildrops",
		},
	)

	StoredBytesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pop3d_stored_bytes_total",
			Help: "Octets waiting in all maildrops",
		},
	)

	ActiveLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pop3d_maildrop_locks_current",
			Help: "Maildrops currently locked by a session",
		},
	)
)

// Health check metrics
var (
	ComponentHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pop3d_component_health_status",
			Help: "Component health (0=unreachable, 1=unhealthy, 2=degraded, 3=healthy)",
		},
		[]string{"component"},
	)

	ComponentHealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pop3d_component_health_checks_total",
			Help: "Health checks performed by component and resulting status",
		},
		[]string{"component", "status"},
	)

	ComponentHealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pop3d_component_health_check_duration_seconds",
			Help:    "Duration of health checks in seconds",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"component"},
	)
)
