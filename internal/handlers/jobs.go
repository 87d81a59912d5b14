package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"sunvault/internal/ledger"
	"sunvault/pkg/config"
	"sunvault/pkg/kafka"
	"sunvault/pkg/logging"
)

// JobManager runs the background metering consumer
type JobManager struct {
	db            *sql.DB
	logger        logging.Logger
	engine        *ledger.Engine
	kafkaConsumer *kafka.Consumer
	stopCh        chan struct{}
	meteringTopic string
	dlqTopic      string
}

// NewJobManager creates a new job manager
func NewJobManager(database *sql.DB, log logging.Logger, eng *ledger.Engine) *JobManager {
	brokers := strings.Split(config.GetEnv("KAFKA_BROKERS", "kafka:9092"), ",")
	clusterID := config.GetEnv("KAFKA_CLUSTER_ID", "local")
	clientID := config.GetEnv("KAFKA_CLIENT_ID", "sunvault")
	groupID := config.GetEnv("KAFKA_GROUP_ID", "sunvault-metering")
	meteringTopic := config.GetEnv("METERING_KAFKA_TOPIC", kafka.TopicConsumptionReports)
	dlqTopic := config.GetEnv("METERING_DLQ_TOPIC", "metering.consumption_reports.dlq")
	kLogger := logrus.New() // Adapt logger

	consumer, err := kafka.NewConsumer(brokers, groupID, clusterID, clientID, kLogger)
	if err != nil {
		log.WithError(err).Error("Failed to create Kafka consumer for metering")
		// Don't fatal here, allow API to start without consumer if needed
	}

	return &JobManager{
		db:            database,
		logger:        log,
		engine:        eng,
		kafkaConsumer: consumer,
		stopCh:        make(chan struct{}),
		meteringTopic: meteringTopic,
		dlqTopic:      dlqTopic,
	}
}

// Start begins all background jobs
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.Info("Starting ledger job manager")

	if jm.kafkaConsumer != nil {
		jm.kafkaConsumer.AddHandler(jm.meteringTopic, jm.handleConsumptionReport)
		go func() {
			if err := jm.kafkaConsumer.Start(ctx); err != nil {
				jm.logger.WithError(err).Error("Kafka consumer exited with error")
			}
		}()
	}
}

// Stop stops all background jobs
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping ledger job manager")
	if jm.kafkaConsumer != nil {
		jm.kafkaConsumer.Close()
	}
	close(jm.stopCh)
}

// handleConsumptionReport charges a metering report against the user's
// balance. The report id doubles as the idempotency key, so redelivered
// reports replay instead of double-charging. Business rejections are
// final and the message is skipped; infrastructure failures are returned
// so the consumer blocks the partition and retries.
func (jm *JobManager) handleConsumptionReport(ctx context.Context, msg kafka.Message) error {
	var report kafka.ConsumptionReport
	if err := json.Unmarshal(msg.Value, &report); err != nil {
		jm.logger.WithError(err).Error("Failed to unmarshal consumption report from Kafka")
		jm.sendToDLQ(msg, err)
		return nil // Skip bad message
	}
	if report.ReportID == "" || report.UserID == "" {
		jm.logger.WithFields(logging.Fields{
			"report_id": report.ReportID,
			"user_id":   report.UserID,
		}).Warn("Consumption report missing identifiers, skipping")
		jm.sendToDLQ(msg, errMissingIdentifiers)
		return nil
	}

	result, err := jm.engine.Apply(ctx, report.UserID, ledger.OpConsume, report.AmountCents, ledger.ApplyOptions{
		IdempotencyKey: "meter:" + report.ReportID,
		Description:    "Metered consumption",
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			// Final: retrying cannot succeed until the user tops up.
			// TODO: park rejected reports in a table so support can
			// re-drive them after a top-up.
			jm.logger.WithFields(logging.Fields{
				"report_id":    report.ReportID,
				"user_id":      report.UserID,
				"amount_cents": report.AmountCents,
			}).Warn("Insufficient balance for consumption report, skipping")
			if metrics != nil && metrics.ReportsProcessed != nil {
				metrics.ReportsProcessed.WithLabelValues("insufficient_balance").Inc()
			}
			return nil
		case errors.Is(err, ledger.ErrUserNotFound), errors.Is(err, ledger.ErrInvalidAmount):
			jm.logger.WithError(err).WithField("report_id", report.ReportID).Warn("Rejected consumption report, skipping")
			if metrics != nil && metrics.ReportsProcessed != nil {
				metrics.ReportsProcessed.WithLabelValues("rejected").Inc()
			}
			return nil
		default:
			// Transient (store unavailable, concurrency conflict):
			// surface it so the offset is not committed.
			jm.logger.WithError(err).WithField("report_id", report.ReportID).Error("Failed to process consumption report")
			return err
		}
	}

	if metrics != nil && metrics.ReportsProcessed != nil {
		metrics.ReportsProcessed.WithLabelValues("ok").Inc()
	}
	emitLedgerEvent(report.UserID, ledger.OpConsume, report.AmountCents, result, nil)

	jm.logger.WithFields(logging.Fields{
		"report_id":   report.ReportID,
		"user_id":     report.UserID,
		"new_balance": result.BalanceCents,
		"replayed":    result.Existing,
	}).Debug("Processed consumption report")

	return nil
}

var errMissingIdentifiers = errors.New("consumption report missing identifiers")

// sendToDLQ parks a permanently rejected message on the dead-letter
// topic so it can be inspected or replayed. Best-effort.
func (jm *JobManager) sendToDLQ(msg kafka.Message, cause error) {
	if producer == nil {
		return
	}

	payload, err := kafka.EncodeDLQMessage(msg, cause, "sunvault-metering")
	if err != nil {
		jm.logger.WithError(err).Warn("Failed to encode DLQ payload")
		return
	}

	if err := producer.ProduceMessage(jm.dlqTopic, msg.Key, payload, nil); err != nil {
		jm.logger.WithError(err).Warn("Failed to publish to DLQ")
	}
}
