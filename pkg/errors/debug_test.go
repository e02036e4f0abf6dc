package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDumpExtractsPgxDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_number_key", TableName: "orders", Message: "duplicate key value"}
	err := Wrap(CodeConflict, fmt.Errorf("insert order: %w", pgErr), "order number taken")

	d := Dump(err)
	assert.Equal(t, CodeConflict, d.Code)
	require.NotNil(t, d.PG)
	assert.Equal(t, "23505", d.PG.Code)
	assert.Equal(t, "23", d.PG.Class())
	assert.Equal(t, "orders_order_number_key", d.PG.Constraint)
	assert.Len(t, d.Chain, 3)

	fields := d.Fields()
	assert.Equal(t, "orders", fields["pg_table"])
}

func TestDumpExtractsPqDiagnostics(t *testing.T) {
	err := fmt.Errorf("listen: %w", &pq.Error{Code: "42P01", Table: "orders", Message: "relation does not exist"})

	pg, ok := Postgres(err)
	require.True(t, ok)
	assert.Equal(t, "42", pg.Class())
	assert.Equal(t, "orders", pg.Table)
}

func TestDumpWithoutDriverError(t *testing.T) {
	d := Dump(errors.New("boom"))
	assert.Nil(t, d.PG)
	assert.Empty(t, d.Code)
	_, present := d.Fields()["pg_code"]
	assert.False(t, present)

	assert.Equal(t, ErrorDump{}, Dump(nil))
	assert.Equal(t, "", PGDiagnostics{}.Class())
}
