package api

import (
	"time"

	"vantage/pkg/config"
	"vantage/pkg/storage"
	"vantage/pkg/wire"
)

// HealthResponse is the detailed-health payload.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// LivenessResponse is the bare-bones /health payload for load balancer probes.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse reports whether each backing subsystem is usable.
type ReadinessResponse struct {
	Ready    bool            `json:"ready"`
	Storage  bool            `json:"storage"`
	Cache    bool            `json:"cache"`
	NegCache bool            `json:"negcache"`
	Chaos    bool            `json:"chaos"`
	Checks   map[string]bool `json:"checks,omitempty"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// StatsResponse is the aggregate resolution statistics payload.
type StatsResponse struct {
	Since                time.Time `json:"since"`
	Until                time.Time `json:"until"`
	TotalQueries         int64     `json:"total_queries"`
	ChaosInjectedQueries int64     `json:"chaos_injected_queries"`
	CachedQueries        int64     `json:"cached_queries"`
	UniqueDomains        int64     `json:"unique_domains"`
	UniqueClients        int64     `json:"unique_clients"`
	AvgResponseTimeMs    float64   `json:"avg_response_time_ms"`
	ChaosRate            float64   `json:"chaos_rate"`
	CacheHitRate         float64   `json:"cache_hit_rate"`

	CPUUsagePercent    float64 `json:"cpu_usage_percent"`
	MemoryUsageBytes   uint64  `json:"memory_usage_bytes"`
	MemoryTotalBytes   uint64  `json:"memory_total_bytes"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
	TemperatureCelsius float64 `json:"temperature_celsius,omitempty"`
	Uptime             string  `json:"uptime"`
}

// TimeSeriesPointResponse is one bucket of the time-series.
type TimeSeriesPointResponse struct {
	Timestamp            time.Time `json:"timestamp"`
	TotalQueries         int64     `json:"total_queries"`
	ChaosInjectedQueries int64     `json:"chaos_injected_queries"`
	CachedQueries        int64     `json:"cached_queries"`
	AvgResponseTimeMs    float64   `json:"avg_response_time_ms"`
}

// TimeSeriesResponse wraps a list of time-series points.
type TimeSeriesResponse struct {
	Points []TimeSeriesPointResponse `json:"points"`
}

// QueryTypeStatResponse is one RR type's aggregate counters.
type QueryTypeStatResponse struct {
	QueryType     string `json:"query_type"`
	Total         int64  `json:"total"`
	ChaosInjected int64  `json:"chaos_injected"`
	Cached        int64  `json:"cached"`
}

// QueryTypeStatsResponse wraps a list of per-type stats.
type QueryTypeStatsResponse struct {
	Stats []QueryTypeStatResponse `json:"stats"`
}

// QueryResponse is one journaled resolution.
type QueryResponse struct {
	ID             int64                          `json:"id,omitempty"`
	Timestamp      time.Time                      `json:"timestamp"`
	ClientIP       string                         `json:"client_ip"`
	Domain         string                         `json:"domain"`
	QueryType      string                         `json:"query_type"`
	ResponseCode   string                         `json:"response_code"`
	ChaosInjected  bool                           `json:"chaos_injected"`
	Cached         bool                           `json:"cached"`
	ResponseTimeMs int64                          `json:"response_time_ms"`
	Upstream       string                         `json:"upstream,omitempty"`
	UpstreamTimeMs int64                          `json:"upstream_time_ms,omitempty"`
	Remark         string                         `json:"remark,omitempty"`
	Trace          []storage.ResolutionTraceEntry `json:"trace,omitempty"`
}

// QueriesResponse wraps a page of queries.
type QueriesResponse struct {
	Queries []QueryResponse `json:"queries"`
	Count   int             `json:"count"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func convertQueryLog(q *storage.QueryLog) QueryResponse {
	return QueryResponse{
		ID:             q.ID,
		Timestamp:      q.Timestamp,
		ClientIP:       q.ClientIP,
		Domain:         q.Domain,
		QueryType:      q.QueryType,
		ResponseCode:   wire.RcodeName(uint8(q.ResponseCode)),
		ChaosInjected:  q.ChaosInjected,
		Cached:         q.Cached,
		ResponseTimeMs: q.ResponseTimeMs,
		Upstream:       q.Upstream,
		UpstreamTimeMs: q.UpstreamTimeMs,
		Remark:         q.Remark,
		Trace:          q.Trace,
	}
}

func convertQueryLogs(qs []*storage.QueryLog) []QueryResponse {
	out := make([]QueryResponse, 0, len(qs))
	for _, q := range qs {
		out = append(out, convertQueryLog(q))
	}
	return out
}

// DomainStatsResponse is one domain's aggregate counters.
type DomainStatsResponse struct {
	Domain        string    `json:"domain"`
	QueryCount    int64     `json:"query_count"`
	LastQueried   time.Time `json:"last_queried"`
	ChaosInjected bool      `json:"chaos_injected"`
	FirstQueried  time.Time `json:"first_queried"`
}

// TopDomainsResponse wraps a list of top domains.
type TopDomainsResponse struct {
	Domains []DomainStatsResponse `json:"domains"`
}

// TraceStatisticsResponse is the chaos-injection trace breakdown.
type TraceStatisticsResponse struct {
	Since         time.Time        `json:"since"`
	Until         time.Time        `json:"until"`
	TotalInjected int64            `json:"total_injected"`
	ByStage       map[string]int64 `json:"by_stage"`
	ByAction      map[string]int64 `json:"by_action"`
	ByRule        map[string]int64 `json:"by_rule"`
	BySource      map[string]int64 `json:"by_source"`
}

// CachePurgeResponse reports how many entries each cache lost.
type CachePurgeResponse struct {
	PositiveCleared int `json:"positive_cleared"`
	NegativeCleared int `json:"negative_cleared"`
}

// CacheStatsResponse is the point-in-time cache-wide statistics payload.
type CacheStatsResponse struct {
	PositiveEntries   int    `json:"positive_entries"`
	PositiveEvictions uint64 `json:"positive_evictions"`
	StaleServed       uint64 `json:"stale_served"`
	NegativeEntries   int    `json:"negative_entries"`
}

// CacheEntryResponse is one live positive cache entry.
type CacheEntryResponse struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Class        string `json:"class"`
	OriginalTTL  string `json:"original_ttl"`
	EffectiveTTL string `json:"effective_ttl"`
	Provenance   string `json:"provenance"`
	InsertedAt   string `json:"inserted_at"`
}

// CacheEntriesResponse wraps a page of cache entries.
type CacheEntriesResponse struct {
	Entries []CacheEntryResponse `json:"entries"`
	Count   int                  `json:"count"`
	Total   int                  `json:"total"`
}

// UpstreamStatsResponse is one upstream's trust-scorer state.
type UpstreamStatsResponse struct {
	Address   string  `json:"address"`
	Score     float64 `json:"score"`
	Available bool    `json:"available"`
	MeanRTTMs float64 `json:"mean_rtt_ms"`
}

// UpstreamsResponse wraps every configured upstream's state.
type UpstreamsResponse struct {
	Upstreams []UpstreamStatsResponse `json:"upstreams"`
}

// ChaosStatsResponse reports the chaos gate's injection counters.
type ChaosStatsResponse struct {
	Total    uint64  `json:"total"`
	Injected uint64  `json:"injected"`
	Rate     float64 `json:"rate"`
}

// CuriosityResponse reports the curiosity tracker's background-resolve counter.
type CuriosityResponse struct {
	Walks uint64 `json:"walks"`
}

// ClientSummariesResponse wraps a page of per-client aggregates.
type ClientSummariesResponse struct {
	Clients []*storage.ClientSummary `json:"clients"`
	Count   int                      `json:"count"`
}

// ClientGroupsResponse wraps the configured client groups.
type ClientGroupsResponse struct {
	Groups []*storage.ClientGroup `json:"groups"`
	Count  int                    `json:"count"`
}

// ConfigResponse is the sanitized, read-only view of the running config
// served at /api/config: no secrets (API keys, passwords, hashes).
type ConfigResponse struct {
	Server     ConfigServerResponse     `json:"server"`
	Forwarder  ConfigForwarderResponse  `json:"forwarder"`
	Cache      ConfigCacheResponse      `json:"cache"`
	NegCache   ConfigNegCacheResponse   `json:"negcache"`
	Chaos      ConfigChaosResponse      `json:"chaos"`
	Recursive  ConfigRecursiveResponse  `json:"recursive"`
	Prefetch   ConfigPrefetchResponse   `json:"prefetch"`
	Commentary ConfigCommentaryResponse `json:"commentary"`
	Telemetry  ConfigTelemetryResponse  `json:"telemetry"`
}

// ConfigServerResponse mirrors config.ServerConfig, minus TLS key material.
type ConfigServerResponse struct {
	ListenAddress string   `json:"listen_address"`
	WebUIAddress  string   `json:"web_ui_address"`
	TCPEnabled    bool     `json:"tcp_enabled"`
	UDPEnabled    bool     `json:"udp_enabled"`
	DotEnabled    bool     `json:"dot_enabled"`
	DotAddress    string   `json:"dot_address,omitempty"`
	CORSOrigins   []string `json:"cors_allowed_origins,omitempty"`
}

// ConfigForwarderResponse mirrors config.ForwarderConfig.
type ConfigForwarderResponse struct {
	Upstreams []string `json:"upstreams"`
	Timeout   string   `json:"timeout"`
}

// ConfigCacheResponse mirrors config.CacheConfig.
type ConfigCacheResponse struct {
	Enabled    bool   `json:"enabled"`
	MaxEntries int    `json:"max_entries"`
	ShardCount int    `json:"shard_count"`
	ServeStale bool   `json:"serve_stale"`
	StaleGrace string `json:"stale_grace"`
}

// ConfigNegCacheResponse mirrors config.NegCacheConfig.
type ConfigNegCacheResponse struct {
	Enabled            bool `json:"enabled"`
	SpeculativeSeeding bool `json:"speculative_seeding"`
	MaxVariants        int  `json:"max_variants"`
}

// ConfigChaosResponse mirrors config.ChaosConfig.
type ConfigChaosResponse struct {
	Enabled  bool    `json:"enabled"`
	Fraction float64 `json:"fraction"`
}

// ConfigRecursiveResponse mirrors config.RecursiveConfig.
type ConfigRecursiveResponse struct {
	Enabled   bool     `json:"enabled"`
	RootHints []string `json:"root_hints,omitempty"`
	WarmUp    bool     `json:"warm_up"`
}

// ConfigPrefetchResponse mirrors config.PrefetchConfig.
type ConfigPrefetchResponse struct {
	Enabled       bool    `json:"enabled"`
	SweepInterval string  `json:"sweep_interval"`
	NearFraction  float64 `json:"near_fraction"`
	MinHits       uint64  `json:"min_hits"`
}

// ConfigCommentaryResponse mirrors config.CommentaryConfig.
type ConfigCommentaryResponse struct {
	Enabled     bool `json:"enabled"`
	CustomQuips int  `json:"custom_quips"`
}

// ConfigTelemetryResponse mirrors config.TelemetryConfig, minus the tracing
// endpoint (may embed credentials in some deployments).
type ConfigTelemetryResponse struct {
	ServiceName       string `json:"service_name"`
	ServiceVersion    string `json:"service_version"`
	PrometheusEnabled bool   `json:"prometheus_enabled"`
	PrometheusPort    int    `json:"prometheus_port"`
	TracingEnabled    bool   `json:"tracing_enabled"`
}

func convertConfigResponse(cfg *config.Config) ConfigResponse {
	return ConfigResponse{
		Server: ConfigServerResponse{
			ListenAddress: cfg.Server.ListenAddress,
			WebUIAddress:  cfg.Server.WebUIAddress,
			TCPEnabled:    cfg.Server.TCPEnabled,
			UDPEnabled:    cfg.Server.UDPEnabled,
			DotEnabled:    cfg.Server.DotEnabled,
			DotAddress:    cfg.Server.DotAddress,
			CORSOrigins:   cfg.Server.CORSAllowedOrigins,
		},
		Forwarder: ConfigForwarderResponse{
			Upstreams: cfg.Forwarder.Upstreams,
			Timeout:   cfg.Forwarder.Timeout.String(),
		},
		Cache: ConfigCacheResponse{
			Enabled:    cfg.Cache.Enabled,
			MaxEntries: cfg.Cache.MaxEntries,
			ShardCount: cfg.Cache.ShardCount,
			ServeStale: cfg.Cache.ServeStale,
			StaleGrace: cfg.Cache.StaleGrace.String(),
		},
		NegCache: ConfigNegCacheResponse{
			Enabled:            cfg.NegCache.Enabled,
			SpeculativeSeeding: cfg.NegCache.SpeculativeSeeding,
			MaxVariants:        cfg.NegCache.MaxVariants,
		},
		Chaos: ConfigChaosResponse{
			Enabled:  cfg.Chaos.Enabled,
			Fraction: cfg.Chaos.Fraction,
		},
		Recursive: ConfigRecursiveResponse{
			Enabled:   cfg.Recursive.Enabled,
			RootHints: cfg.Recursive.RootHints,
			WarmUp:    cfg.Recursive.WarmUp,
		},
		Prefetch: ConfigPrefetchResponse{
			Enabled:       cfg.Prefetch.Enabled,
			SweepInterval: cfg.Prefetch.SweepInterval.String(),
			NearFraction:  cfg.Prefetch.NearFraction,
			MinHits:       cfg.Prefetch.MinHits,
		},
		Commentary: ConfigCommentaryResponse{
			Enabled:     cfg.Commentary.Enabled,
			CustomQuips: len(cfg.Commentary.CustomQuips),
		},
		Telemetry: ConfigTelemetryResponse{
			ServiceName:       cfg.Telemetry.ServiceName,
			ServiceVersion:    cfg.Telemetry.ServiceVersion,
			PrometheusEnabled: cfg.Telemetry.PrometheusEnabled,
			PrometheusPort:    cfg.Telemetry.PrometheusPort,
			TracingEnabled:    cfg.Telemetry.TracingEnabled,
		},
	}
}
