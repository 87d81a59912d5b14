package kafka

import "time"

// Topics used by the ledger service.
const (
	TopicConsumptionReports = "metering.consumption_reports"
	TopicLedgerTransactions = "ledger.transactions"
)

// ConsumptionReport is a metering event produced by field devices. Each
// report is charged against the owning user's credit balance exactly once,
// keyed by ReportID.
type ConsumptionReport struct {
	ReportID   string    `json:"report_id"`
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	AmountCents int64    `json:"amount_cents"`
	ReportedAt time.Time `json:"reported_at"`
}

// LedgerEvent is emitted after a balance mutation commits. Consumers use it
// for downstream reporting; it is informational and carries no authority
// over the balance itself.
type LedgerEvent struct {
	EventID           string                 `json:"event_id"`
	UserID            string                 `json:"user_id"`
	OpType            string                 `json:"op_type"`
	AmountCents       int64                  `json:"amount_cents"`
	BalanceAfterCents int64                  `json:"balance_after_cents"`
	TransactionID     string                 `json:"transaction_id"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
	Timestamp         time.Time              `json:"timestamp"`
}
