package storage

import (
	"context"
	"time"
)

// Storage defines the interface for all storage backends
// Implementations must be thread-safe and support concurrent access
type Storage interface {
	// Query Logging
	LogQuery(ctx context.Context, query *QueryLog) error
	GetRecentQueries(ctx context.Context, limit, offset int) ([]*QueryLog, error)
	GetQueriesByDomain(ctx context.Context, domain string, limit int) ([]*QueryLog, error)
	GetQueriesByClientIP(ctx context.Context, clientIP string, limit int) ([]*QueryLog, error)
	GetQueriesFiltered(ctx context.Context, filter QueryFilter, limit, offset int) ([]*QueryLog, error)

	// Statistics
	GetStatistics(ctx context.Context, since time.Time) (*Statistics, error)
	GetTopDomains(ctx context.Context, limit int, chaosInjected bool) ([]*DomainStats, error)
	GetChaosInjectedCount(ctx context.Context, since time.Time) (int64, error)
	GetQueryCount(ctx context.Context, since time.Time) (int64, error)
	GetTimeSeriesStats(ctx context.Context, bucket time.Duration, points int) ([]*TimeSeriesPoint, error)
	GetQueryTypeStats(ctx context.Context, limit int, since time.Time) ([]*QueryTypeStats, error)

	// Resolution journey traces
	GetTraceStatistics(ctx context.Context, since time.Time) (*TraceStatistics, error)
	GetQueriesWithTraceFilter(ctx context.Context, filter TraceFilter, limit, offset int) ([]*QueryLog, error)

	// Client metadata
	GetClientSummaries(ctx context.Context, limit, offset int) ([]*ClientSummary, error)
	UpdateClientProfile(ctx context.Context, profile *ClientProfile) error
	GetClientGroups(ctx context.Context) ([]*ClientGroup, error)
	UpsertClientGroup(ctx context.Context, group *ClientGroup) error
	DeleteClientGroup(ctx context.Context, name string) error

	// Maintenance
	Cleanup(ctx context.Context, olderThan time.Time) error
	Reset(ctx context.Context) error
	Close() error
	Ping(ctx context.Context) error
}

// QueryLog represents a single resolved query's journal entry.
type QueryLog struct {
	ID             int64                  `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	ClientIP       string                 `json:"client_ip"`
	Domain         string                 `json:"domain"`
	QueryType      string                 `json:"query_type"`    // A, AAAA, CNAME, etc.
	ResponseCode   int                    `json:"response_code"` // DNS response code
	ChaosInjected  bool                   `json:"chaos_injected"`          // Was this query failed by the chaos gate?
	Cached         bool                   `json:"cached"`                  // Was response from cache?
	ResponseTimeMs int64                  `json:"response_time_ms"`        // Total response time in milliseconds
	Upstream       string                 `json:"upstream,omitempty"`      // Which upstream, or "recursive"/"cache"/"negcache"
	UpstreamTimeMs int64                  `json:"upstream_time_ms,omitempty"` // Time spent waiting on the upstream/recursive path
	Remark         string                 `json:"remark,omitempty"`        // Commentary engine's cosmetic note on this journey
	Trace          []ResolutionTraceEntry `json:"trace,omitempty"`         // Stage-by-stage record of how this query was resolved
}

// QueryFilter narrows GetQueriesFiltered results by any combination of fields.
// Zero-value fields are ignored.
type QueryFilter struct {
	Domain        string
	QueryType     string
	ChaosInjected *bool
	Cached        *bool
	Start         time.Time
	End           time.Time
}

// TimeSeriesPoint is one bucket of GetTimeSeriesStats output.
type TimeSeriesPoint struct {
	Timestamp            time.Time `json:"timestamp"`
	TotalQueries         int64     `json:"total_queries"`
	ChaosInjectedQueries int64     `json:"chaos_injected_queries"`
	CachedQueries        int64     `json:"cached_queries"`
	AvgResponseTimeMs    float64   `json:"avg_response_time_ms"`
}

// QueryTypeStats aggregates counts for a single DNS query type (A, AAAA, ...).
type QueryTypeStats struct {
	QueryType     string `json:"query_type"`
	Total         int64  `json:"total"`
	ChaosInjected int64  `json:"chaos_injected"`
	Cached        int64  `json:"cached"`
}

// ResolutionTraceEntry records one stage of a query's resolution journey,
// e.g. {Stage: "negcache", Action: "miss", Source: "soa-minimum"}.
type ResolutionTraceEntry struct {
	Stage  string `json:"stage"`
	Action string `json:"action"`
	Rule   string `json:"rule,omitempty"`
	Source string `json:"source,omitempty"`
}

// TraceFilter narrows trace queries by any combination of fields.
// Zero-value fields are ignored.
type TraceFilter struct {
	Stage  string
	Action string
	Rule   string
	Source string
}

// TraceStatistics aggregates resolution trace entries across chaos-injected queries.
type TraceStatistics struct {
	Since        time.Time        `json:"since"`
	Until        time.Time        `json:"until"`
	TotalInjected int64           `json:"total_injected"`
	ByStage      map[string]int64 `json:"by_stage"`
	ByAction     map[string]int64 `json:"by_action"`
	ByRule       map[string]int64 `json:"by_rule"`
	BySource     map[string]int64 `json:"by_source"`
}

// ClientSummary aggregates per-client query statistics joined with operator metadata.
type ClientSummary struct {
	ClientIP             string    `json:"client_ip"`
	DisplayName          string    `json:"display_name"`
	Notes                string    `json:"notes,omitempty"`
	GroupName            string    `json:"group_name,omitempty"`
	GroupColor           string    `json:"group_color,omitempty"`
	FirstSeen            time.Time `json:"first_seen"`
	LastSeen             time.Time `json:"last_seen"`
	TotalQueries         int64     `json:"total_queries"`
	ChaosInjectedQueries int64     `json:"chaos_injected_queries"`
	NXDomainCount        int64     `json:"nxdomain_count"`
}

// ClientProfile is operator-supplied metadata attached to a client IP.
type ClientProfile struct {
	ClientIP    string `json:"client_ip"`
	DisplayName string `json:"display_name"`
	Notes       string `json:"notes,omitempty"`
	GroupName   string `json:"group_name,omitempty"`
}

// ClientGroup is a named, colored grouping of clients (e.g. "kids", "iot").
type ClientGroup struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Statistics represents aggregated query statistics
type Statistics struct {
	Since                time.Time `json:"since"`
	Until                time.Time `json:"until"`
	TotalQueries         int64     `json:"total_queries"`
	ChaosInjectedQueries int64     `json:"chaos_injected_queries"`
	CachedQueries        int64     `json:"cached_queries"`
	UniqueDomains        int64     `json:"unique_domains"`
	UniqueClients        int64     `json:"unique_clients"`
	AvgResponseTimeMs    float64   `json:"avg_response_time_ms"`
	ChaosRate            float64   `json:"chaos_rate"`     // Percentage of queries failed by the chaos gate
	CacheHitRate         float64   `json:"cache_hit_rate"` // Percentage of cached responses
}

// DomainStats represents statistics for a specific domain
type DomainStats struct {
	Domain        string    `json:"domain"`
	QueryCount    int64     `json:"query_count"`
	LastQueried   time.Time `json:"last_queried"`
	ChaosInjected bool      `json:"chaos_injected"`
	FirstQueried  time.Time `json:"first_queried,omitempty"`
}

// BackendType represents the type of storage backend
type BackendType string

const (
	BackendSQLite BackendType = "sqlite"
)

// Config represents storage configuration
type Config struct {
	Enabled bool         `yaml:"enabled"`
	Backend BackendType  `yaml:"backend"`
	SQLite  SQLiteConfig `yaml:"sqlite"`

	// Buffer settings
	BufferSize    int           `yaml:"buffer_size"`    // Number of queries to buffer
	FlushInterval time.Duration `yaml:"flush_interval"` // How often to flush buffer
	BatchSize     int           `yaml:"batch_size"`     // Max queries per batch

	// Retention settings
	RetentionDays int `yaml:"retention_days"` // Days to keep detailed logs

	// Statistics settings
	Statistics StatisticsConfig `yaml:"statistics"`
}

// SQLiteConfig represents SQLite-specific configuration
type SQLiteConfig struct {
	Path        string `yaml:"path"`         // Database file path
	BusyTimeout int    `yaml:"busy_timeout"` // Busy timeout in milliseconds
	WALMode     bool   `yaml:"wal_mode"`     // Enable WAL mode
	CacheSize   int    `yaml:"cache_size"`   // Cache size in KB
	MMapSize    int64  `yaml:"mmap_size"`    // mmap_size pragma in bytes
}

// StatisticsConfig represents statistics aggregation configuration
type StatisticsConfig struct {
	Enabled             bool          `yaml:"enabled"`
	AggregationInterval time.Duration `yaml:"aggregation_interval"` // How often to aggregate
}

// DefaultConfig returns a default storage configuration
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Backend: BackendSQLite,
		SQLite: SQLiteConfig{
			Path:        "./vantage.db",
			BusyTimeout: 5000,
			WALMode:     true,
			CacheSize:   10000,
		},
		BufferSize:    50000,
		FlushInterval: 5 * time.Second,
		BatchSize:     100,
		RetentionDays: 7,
		Statistics: StatisticsConfig{
			Enabled:             true,
			AggregationInterval: 1 * time.Hour,
		},
	}
}

// Validate validates the storage configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Backend != BackendSQLite {
		return ErrInvalidBackend
	}

	if c.BufferSize < 1 {
		c.BufferSize = 100
	}

	if c.BatchSize < 1 {
		c.BatchSize = 100
	}

	if c.RetentionDays < 1 {
		c.RetentionDays = 7
	}

	return nil
}
