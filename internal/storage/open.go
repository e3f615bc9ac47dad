package storage

import (
	"context"
	"errors"
	"strings"

	logx "cronkeeper/pkg/logx"
)

// Store is the persistence API used by the registry and the keeper.
type Store interface {
	PutJob(ctx context.Context, j JobRecord) error
	DeleteJob(ctx context.Context, id int64) error
	// LoadJobs returns every stored job ordered by ascending id.
	LoadJobs(ctx context.Context) ([]JobRecord, error)

	SetLastID(ctx context.Context, id int64) error
	LastID(ctx context.Context) (int64, error)

	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]RunRecord, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
