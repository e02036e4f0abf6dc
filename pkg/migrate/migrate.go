package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where `migrate create` writes new files, relative to the repo root.
const DefaultDir = "pkg/migrate/migrations"

const embeddedDir = "migrations"

// Migrations holds the SQL files compiled into every binary, so cmd/migrate and
// the dev auto-run work regardless of the working directory.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// Commands lists what Run accepts.
var Commands = []string{"up", "down", "redo", "reset", "status"}

// Migrator applies the embedded migrations to one database.
type Migrator struct {
	provider *goose.Provider
}

func New(db *sql.DB) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	fsys, err := fs.Sub(Migrations, embeddedDir)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return &Migrator{provider: provider}, nil
}

// Run executes command and returns a report of what changed, one migration
// per line.
func (m *Migrator) Run(ctx context.Context, command string) (string, error) {
	var (
		results []*goose.MigrationResult
		err     error
	)
	switch command {
	case "up":
		results, err = m.provider.Up(ctx)
	case "down":
		results, err = single(m.provider.Down(ctx))
	case "redo":
		results, err = single(m.provider.Down(ctx))
		if err == nil {
			var up []*goose.MigrationResult
			up, err = single(m.provider.UpByOne(ctx))
			results = append(results, up...)
		}
	case "reset":
		results, err = m.provider.DownTo(ctx, 0)
	case "status":
		return m.status(ctx)
	default:
		return "", fmt.Errorf("unknown migrate command %q (want %s)", command, strings.Join(Commands, "|"))
	}
	if errors.Is(err, goose.ErrNoNextVersion) || errors.Is(err, goose.ErrNoCurrentVersion) {
		err = nil
	}
	if err != nil {
		return report(results), fmt.Errorf("goose %s: %w", command, err)
	}
	return report(results), nil
}

// ToVersion moves the schema up or down to target, formatted YYYYMMDDHHMMSS.
func (m *Migrator) ToVersion(ctx context.Context, target string) (string, error) {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	current, err := m.provider.GetDBVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("get db version: %w", err)
	}

	var results []*goose.MigrationResult
	switch {
	case current == version:
		return "", nil
	case current < version:
		results, err = m.provider.UpTo(ctx, version)
	default:
		results, err = m.provider.DownTo(ctx, version)
	}
	if err != nil {
		return report(results), fmt.Errorf("migrate to %d: %w", version, err)
	}
	return report(results), nil
}

// Pending reports whether any embedded migration is not yet applied.
func (m *Migrator) Pending(ctx context.Context) (bool, error) {
	return m.provider.HasPending(ctx)
}

func (m *Migrator) status(ctx context.Context) (string, error) {
	statuses, err := m.provider.Status(ctx)
	if err != nil {
		return "", fmt.Errorf("goose status: %w", err)
	}
	lines := make([]string, 0, len(statuses))
	for _, st := range statuses {
		applied := "-"
		if st.State == goose.StateApplied {
			applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		lines = append(lines, fmt.Sprintf("%-8s %-19s %s", st.State, applied, path.Base(st.Source.Path)))
	}
	return strings.Join(lines, "\n"), nil
}

func single(result *goose.MigrationResult, err error) ([]*goose.MigrationResult, error) {
	if result == nil {
		return nil, err
	}
	return []*goose.MigrationResult{result}, err
}

func report(results []*goose.MigrationResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%-4s %s (%s)", r.Direction, path.Base(r.Source.Path), r.Duration.Round(time.Millisecond)))
	}
	return strings.Join(lines, "\n")
}
