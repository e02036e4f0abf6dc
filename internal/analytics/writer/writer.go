package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/orderdesk/internal/analytics/types"
	"github.com/angelmondragon/orderdesk/pkg/bigquery"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the analytics writer behavior.
type Config struct {
	TransitionsTable string
	RetryPolicy      RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaultInitialBackoff
	}
	if p.MaximumBackoff < p.InitialBackoff {
		p.MaximumBackoff = max(defaultMaximumBackoff, p.InitialBackoff)
	}
	return p
}

// Client is the subset of pkg/bigquery.Client the writer needs.
type Client interface {
	EnsureTable(ctx context.Context, spec bigquery.TableSpec) error
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams transition rows into BigQuery. Rows are written
// synchronously so the caller only acks a message once its row landed; the
// event id doubles as the streaming insert id, which lets BigQuery drop the
// duplicate when a retry follows a timed-out but successful insert.
type BigQueryWriter struct {
	client           Client
	transitionsTable string
	retry            RetryPolicy
	sleep            func(context.Context, time.Duration) error
}

func New(client Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.TransitionsTable)
	if table == "" {
		return nil, errors.New("transitions table is required")
	}
	return &BigQueryWriter{
		client:           client,
		transitionsTable: table,
		retry:            cfg.RetryPolicy.withDefaults(),
		sleep:            sleepCtx,
	}, nil
}

// EnsureSchema creates the transitions table or adds columns it lacks.
func (w *BigQueryWriter) EnsureSchema(ctx context.Context) error {
	return w.client.EnsureTable(ctx, bigquery.TableSpec{
		Name:           w.transitionsTable,
		Schema:         types.TransitionSchema,
		PartitionField: types.TransitionPartitionField,
		Clustering:     types.TransitionClustering,
	})
}

// InsertTransition writes one row, retrying transient failures.
func (w *BigQueryWriter) InsertTransition(ctx context.Context, row types.TransitionRow) error {
	saver := &cbigquery.StructSaver{
		Schema:   types.TransitionSchema,
		InsertID: row.EventID,
		Struct:   row,
	}
	return w.insertWithRetry(ctx, []any{saver})
}

func (w *BigQueryWriter) insertWithRetry(ctx context.Context, rows []any) error {
	backoff := w.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		err := w.client.InsertRows(ctx, w.transitionsTable, rows)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !isRetryableBigQueryError(err) {
			return fmt.Errorf("insert %s rows (attempt %d): %w", w.transitionsTable, attempt, err)
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryableBigQueryError is true only when every underlying error is
// transient; one bad row makes the whole insert permanent.
func isRetryableBigQueryError(err error) bool {
	leaves := leafErrors(err)
	if len(leaves) == 0 {
		return false
	}
	for _, leaf := range leaves {
		if !isTransient(leaf) {
			return false
		}
	}
	return true
}

// leafErrors flattens the bigquery multi-error shapes into their row errors.
func leafErrors(err error) []error {
	if err == nil {
		return nil
	}
	var out []error
	var multi cbigquery.MultiError
	var putErr cbigquery.PutMultiError
	var rowErr *cbigquery.RowInsertionError
	switch {
	case errors.As(err, &putErr):
		for i := range putErr {
			out = append(out, leafErrors(putErr[i].Errors)...)
		}
	case errors.As(err, &rowErr):
		out = append(out, leafErrors(rowErr.Errors)...)
	case errors.As(err, &multi):
		for _, inner := range multi {
			out = append(out, leafErrors(inner)...)
		}
	default:
		out = append(out, err)
	}
	return out
}

func isTransient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests, http.StatusRequestTimeout, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
			return true
		}
	}
	return false
}

// EncodeJSON serializes the provided payload so it can be stored in BigQuery JSON columns.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	var raw []byte
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		raw = value
	case []byte:
		raw = value
	default:
		marshaled, err := json.Marshal(payload)
		if err != nil {
			return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
		}
		raw = marshaled
	}
	if len(raw) == 0 {
		return cbigquery.NullJSON{}, nil
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(raw)}, nil
}
