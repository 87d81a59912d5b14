package handlers

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"

	"sunvault/internal/ledger"
	"sunvault/internal/payments"
	"sunvault/pkg/kafka"
	"sunvault/pkg/logging"
)

var (
	db           *sql.DB
	logger       logging.Logger
	engine       *ledger.Engine
	stripeClient *payments.StripeClient
	producer     *kafka.KafkaProducer
	metrics      *LedgerMetrics
)

// LedgerMetrics holds all Prometheus metrics for the ledger service
type LedgerMetrics struct {
	OperationsApplied *prometheus.CounterVec
	WebhooksReceived  *prometheus.CounterVec
	ReportsProcessed  *prometheus.CounterVec
	DBQueries         *prometheus.CounterVec
	DBDuration        *prometheus.HistogramVec
	DBConnections     *prometheus.GaugeVec
}

// Init initializes the handlers with their dependencies. The Kafka
// producer may be nil when event publishing is disabled.
func Init(database *sql.DB, log logging.Logger, eng *ledger.Engine, stripe *payments.StripeClient, prod *kafka.KafkaProducer, ledgerMetrics *LedgerMetrics) {
	db = database
	logger = log
	engine = eng
	stripeClient = stripe
	producer = prod
	metrics = ledgerMetrics
}
