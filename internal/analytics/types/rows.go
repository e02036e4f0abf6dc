package types

import (
	"time"

	"cloud.google.com/go/bigquery"
)

// TransitionRow is one order status change in the order_transitions table.
type TransitionRow struct {
	EventID            string              `bigquery:"event_id"`
	EventType          string              `bigquery:"event_type"`
	OrderID            string              `bigquery:"order_id"`
	OrderNumber        int64               `bigquery:"order_number"`
	CustomerID         string              `bigquery:"customer_id"`
	BusinessID         string              `bigquery:"business_id"`
	BusinessType       string              `bigquery:"business_type"`
	FromStatus         bigquery.NullString `bigquery:"from_status"`
	ToStatus           string              `bigquery:"to_status"`
	Version            int64               `bigquery:"version"`
	ActorRole          string              `bigquery:"actor_role"`
	Total              string              `bigquery:"total"`
	Currency           string              `bigquery:"currency"`
	PaymentMethod      bigquery.NullString `bigquery:"payment_method"`
	PaymentAmount      bigquery.NullString `bigquery:"payment_amount"`
	CancellationReason bigquery.NullString `bigquery:"cancellation_reason"`
	OccurredAt         time.Time           `bigquery:"occurred_at"`
	IngestedAt         time.Time           `bigquery:"ingested_at"`
	Payload            bigquery.NullJSON   `bigquery:"payload"`
}

// TransitionSchema is the BigQuery schema for TransitionRow. Amounts are
// NUMERIC columns fed with decimal strings.
var TransitionSchema = bigquery.Schema{
	{Name: "event_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "event_type", Type: bigquery.StringFieldType, Required: true},
	{Name: "order_id", Type: bigquery.StringFieldType, Required: true},
	{Name: "order_number", Type: bigquery.IntegerFieldType},
	{Name: "customer_id", Type: bigquery.StringFieldType},
	{Name: "business_id", Type: bigquery.StringFieldType},
	{Name: "business_type", Type: bigquery.StringFieldType},
	{Name: "from_status", Type: bigquery.StringFieldType},
	{Name: "to_status", Type: bigquery.StringFieldType, Required: true},
	{Name: "version", Type: bigquery.IntegerFieldType},
	{Name: "actor_role", Type: bigquery.StringFieldType},
	{Name: "total", Type: bigquery.NumericFieldType},
	{Name: "currency", Type: bigquery.StringFieldType},
	{Name: "payment_method", Type: bigquery.StringFieldType},
	{Name: "payment_amount", Type: bigquery.NumericFieldType},
	{Name: "cancellation_reason", Type: bigquery.StringFieldType},
	{Name: "occurred_at", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "ingested_at", Type: bigquery.TimestampFieldType, Required: true},
	{Name: "payload", Type: bigquery.JSONFieldType},
}

// TransitionPartitionField is the day-partitioning column.
const TransitionPartitionField = "occurred_at"

// TransitionClustering orders storage within a partition for per-order and
// per-status scans.
var TransitionClustering = []string{"business_type", "to_status", "order_id"}
