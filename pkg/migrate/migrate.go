package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
)

// DefaultDir is where the SQL files live in the source tree.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Step reports one migration touched (or inspected) by a command.
type Step struct {
	Version  int64
	Path     string
	Applied  bool
	Duration time.Duration
}

// Source resolves dir to the migration files. DefaultDir and "" resolve to
// the copy compiled into the binary.
func Source(dir string) (fs.FS, error) {
	if dir == "" || filepath.Clean(dir) == filepath.Clean(DefaultDir) {
		return fs.Sub(embedded, "migrations")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations dir %q: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations dir %q is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

func provider(db *sql.DB, dir string) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	fsys, err := Source(dir)
	if err != nil {
		return nil, err
	}
	// The SQL files are written for Postgres; sqlite uses AutoMigrate.
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return p, nil
}

// Run executes up, down or status against db.
func Run(ctx context.Context, db *sql.DB, dir, command string) ([]Step, error) {
	p, err := provider(db, dir)
	if err != nil {
		return nil, err
	}

	switch command {
	case "up":
		res, err := p.Up(ctx)
		if err != nil {
			return nil, fmt.Errorf("goose up: %w", err)
		}
		return resultSteps(res), nil
	case "down":
		res, err := p.Down(ctx)
		if err != nil {
			return nil, fmt.Errorf("goose down: %w", err)
		}
		return resultSteps([]*goose.MigrationResult{res}), nil
	case "status":
		statuses, err := p.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("goose status: %w", err)
		}
		steps := make([]Step, 0, len(statuses))
		for _, s := range statuses {
			steps = append(steps, Step{
				Version: s.Source.Version,
				Path:    s.Source.Path,
				Applied: s.State == goose.StateApplied,
			})
		}
		return steps, nil
	}
	return nil, fmt.Errorf("unsupported goose command %q", command)
}

// MigrateToVersion moves the schema up or down to target (YYYYMMDDHHMMSS).
func MigrateToVersion(ctx context.Context, db *sql.DB, dir, target string) ([]Step, error) {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil || len(target) != 14 {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", target)
	}
	p, err := provider(db, dir)
	if err != nil {
		return nil, err
	}

	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("current db version: %w", err)
	}
	var res []*goose.MigrationResult
	switch {
	case current == version:
		return nil, nil
	case current < version:
		res, err = p.UpTo(ctx, version)
	default:
		res, err = p.DownTo(ctx, version)
	}
	if err != nil {
		return nil, fmt.Errorf("goose migrate %d -> %d: %w", current, version, err)
	}
	return resultSteps(res), nil
}

func resultSteps(results []*goose.MigrationResult) []Step {
	steps := make([]Step, 0, len(results))
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		steps = append(steps, Step{
			Version:  r.Source.Version,
			Path:     r.Source.Path,
			Applied:  r.Direction == "up",
			Duration: r.Duration,
		})
	}
	return steps
}
