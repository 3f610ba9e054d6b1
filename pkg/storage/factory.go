package storage

import (
	"context"
	"fmt"
	"time"
)

// New creates a new storage instance based on the configuration.
// Returns a no-op storage if storage is disabled in config.
func New(cfg *Config, metrics MetricsRecorder) (Storage, error) {
	if cfg == nil {
		defaults := DefaultConfig()
		cfg = &defaults
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled {
		return NewNoOpStorage(), nil
	}

	switch cfg.Backend {
	case BackendSQLite:
		return NewSQLiteStorage(cfg, metrics)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidBackend, cfg.Backend)
	}
}

// NoOpStorage is a no-op storage that does nothing.
// Used when storage is disabled.
type NoOpStorage struct{}

// NewNoOpStorage creates a new no-op storage
func NewNoOpStorage() *NoOpStorage {
	return &NoOpStorage{}
}

func (n *NoOpStorage) LogQuery(ctx context.Context, query *QueryLog) error {
	return nil
}

func (n *NoOpStorage) GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

func (n *NoOpStorage) GetQueriesByDomain(ctx context.Context, domain string, limit int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

func (n *NoOpStorage) GetQueriesByClientIP(ctx context.Context, clientIP string, limit int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

func (n *NoOpStorage) GetQueriesFiltered(ctx context.Context, filter QueryFilter, limit, offset int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

func (n *NoOpStorage) GetStatistics(ctx context.Context, since time.Time) (*Statistics, error) {
	return &Statistics{
		Since: since,
		Until: time.Now(),
	}, nil
}

func (n *NoOpStorage) GetTopDomains(ctx context.Context, limit int, chaosInjected bool) ([]*DomainStats, error) {
	return []*DomainStats{}, nil
}

func (n *NoOpStorage) GetChaosInjectedCount(ctx context.Context, since time.Time) (int64, error) {
	return 0, nil
}

func (n *NoOpStorage) GetQueryCount(ctx context.Context, since time.Time) (int64, error) {
	return 0, nil
}

func (n *NoOpStorage) GetTimeSeriesStats(ctx context.Context, bucket time.Duration, points int) ([]*TimeSeriesPoint, error) {
	return []*TimeSeriesPoint{}, nil
}

func (n *NoOpStorage) GetQueryTypeStats(ctx context.Context, limit int, since time.Time) ([]*QueryTypeStats, error) {
	return []*QueryTypeStats{}, nil
}

func (n *NoOpStorage) GetTraceStatistics(ctx context.Context, since time.Time) (*TraceStatistics, error) {
	return &TraceStatistics{
		Since:    since,
		Until:    time.Now(),
		ByStage:  make(map[string]int64),
		ByAction: make(map[string]int64),
		ByRule:   make(map[string]int64),
		BySource: make(map[string]int64),
	}, nil
}

func (n *NoOpStorage) GetQueriesWithTraceFilter(ctx context.Context, filter TraceFilter, limit, offset int) ([]*QueryLog, error) {
	return []*QueryLog{}, nil
}

func (n *NoOpStorage) GetClientSummaries(ctx context.Context, limit, offset int) ([]*ClientSummary, error) {
	return []*ClientSummary{}, nil
}

func (n *NoOpStorage) UpdateClientProfile(ctx context.Context, profile *ClientProfile) error {
	return nil
}

func (n *NoOpStorage) GetClientGroups(ctx context.Context) ([]*ClientGroup, error) {
	return []*ClientGroup{}, nil
}

func (n *NoOpStorage) UpsertClientGroup(ctx context.Context, group *ClientGroup) error {
	return nil
}

func (n *NoOpStorage) DeleteClientGroup(ctx context.Context, name string) error {
	return nil
}

func (n *NoOpStorage) Cleanup(ctx context.Context, olderThan time.Time) error {
	return nil
}

func (n *NoOpStorage) Reset(ctx context.Context) error {
	return nil
}

func (n *NoOpStorage) Close() error {
	return nil
}

func (n *NoOpStorage) Ping(ctx context.Context) error {
	return nil
}
