package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validBody = `-- +goose Up
-- +goose StatementBegin
CREATE TABLE t (id int);
-- +goose StatementEnd

-- +goose Down
DROP TABLE t;
`

func TestSlug(t *testing.T) {
	assert.Equal(t, "add_order_tags", slug("  Add Order-Tags! "))
	assert.Equal(t, "", slug("!!!"))
}

func TestValidateFSRejectsBrokenMigrations(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad filename": {
			"m/20260301_orders.sql": {Data: []byte(validBody)},
		},
		"not a timestamp": {
			"m/20261399999999_orders.sql": {Data: []byte(validBody)},
		},
		"duplicate version": {
			"m/20260301090000_a.sql": {Data: []byte(validBody)},
			"m/20260301090000_b.sql": {Data: []byte(validBody)},
		},
		"missing down": {
			"m/20260301090000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")},
		},
		"down before up": {
			"m/20260301090000_a.sql": {Data: []byte("-- +goose Down\nSELECT 1;\n-- +goose Up\nSELECT 1;\n")},
		},
		"unterminated block": {
			"m/20260301090000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\nSELECT 1;\n-- +goose Down\n")},
		},
		"stray end": {
			"m/20260301090000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementEnd\n-- +goose Down\n")},
		},
		"empty": {
			"m/README.md": {Data: []byte("notes")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateFS(fsys, "m"))
		})
	}
}

func TestValidateFSIgnoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"m/20260301090000_orders.sql": {Data: []byte(validBody)},
		"m/README.md":                 {Data: []byte("notes")},
	}
	require.NoError(t, ValidateFS(fsys, "m"))
}
