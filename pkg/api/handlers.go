package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"vantage/pkg/storage"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  s.getUptime(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, LivenessResponse{Status: "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{
		"storage":  s.storage != nil,
		"cache":    s.cache != nil,
		"negcache": s.negcache != nil,
		"chaos":    s.gate != nil,
	}

	ready := true
	for _, ok := range checks {
		if !ok {
			ready = false
			break
		}
	}

	resp := ReadinessResponse{
		Ready:    ready,
		Storage:  checks["storage"],
		Cache:    checks["cache"],
		NegCache: checks["negcache"],
		Chaos:    checks["chaos"],
		Checks:   checks,
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	since := parseTimeParamValue(r.URL.Query().Get("since"), time.Now().Add(-24*time.Hour))

	stats, err := s.storage.GetStatistics(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sys := collectSystemMetrics(r.Context())

	s.writeJSON(w, http.StatusOK, StatsResponse{
		Since:                stats.Since,
		Until:                stats.Until,
		TotalQueries:         stats.TotalQueries,
		ChaosInjectedQueries: stats.ChaosInjectedQueries,
		CachedQueries:        stats.CachedQueries,
		UniqueDomains:        stats.UniqueDomains,
		UniqueClients:        stats.UniqueClients,
		AvgResponseTimeMs:    stats.AvgResponseTimeMs,
		ChaosRate:            stats.ChaosRate,
		CacheHitRate:         stats.CacheHitRate,
		CPUUsagePercent:      sys.CPUPercent,
		MemoryUsageBytes:     sys.MemUsed,
		MemoryTotalBytes:     sys.MemTotal,
		MemoryUsagePercent:   sys.MemPercent,
		TemperatureCelsius:   sys.TemperatureC,
		Uptime:               s.getUptime(),
	})
}

func parseTimeSeriesPeriod(v string, def time.Duration) time.Duration {
	switch v {
	case "1h":
		return time.Hour
	case "24h":
		return 24 * time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	case "30d":
		return 30 * 24 * time.Hour
	default:
		return parseDuration(v, def)
	}
}

func parseTimeSeriesPoints(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleStatsTimeSeries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	bucket := parseTimeSeriesPeriod(q.Get("bucket"), time.Hour)
	points := parseTimeSeriesPoints(q.Get("points"), 24)

	series, err := s.storage.GetTimeSeriesStats(r.Context(), bucket, points)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := TimeSeriesResponse{Points: make([]TimeSeriesPointResponse, 0, len(series))}
	for _, p := range series {
		resp.Points = append(resp.Points, TimeSeriesPointResponse{
			Timestamp:            p.Timestamp,
			TotalQueries:         p.TotalQueries,
			ChaosInjectedQueries: p.ChaosInjectedQueries,
			CachedQueries:        p.CachedQueries,
			AvgResponseTimeMs:    p.AvgResponseTimeMs,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueryTypes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 20)
	since := parseTimeParamValue(q.Get("since"), time.Now().Add(-24*time.Hour))

	stats, err := s.storage.GetQueryTypeStats(r.Context(), limit, since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := QueryTypeStatsResponse{Stats: make([]QueryTypeStatResponse, 0, len(stats))}
	for _, st := range stats {
		resp.Stats = append(resp.Stats, QueryTypeStatResponse{
			QueryType:     st.QueryType,
			Total:         st.Total,
			ChaosInjected: st.ChaosInjected,
			Cached:        st.Cached,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 50)
	offset := parseLimit(q.Get("offset"), 0)

	if stage := q.Get("trace_stage"); stage != "" || q.Get("trace_action") != "" ||
		q.Get("trace_rule") != "" || q.Get("trace_source") != "" {
		filter := storage.TraceFilter{
			Stage:  stage,
			Action: q.Get("trace_action"),
			Rule:   q.Get("trace_rule"),
			Source: q.Get("trace_source"),
		}
		logs, err := s.storage.GetQueriesWithTraceFilter(r.Context(), filter, limit, offset)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, QueriesResponse{
			Queries: convertQueryLogs(logs),
			Count:   len(logs),
			Limit:   limit,
			Offset:  offset,
		})
		return
	}

	filter := buildQueryFilterFromRequest(q)
	logs, err := s.storage.GetQueriesFiltered(r.Context(), filter, limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, QueriesResponse{
		Queries: convertQueryLogs(logs),
		Count:   len(logs),
		Limit:   limit,
		Offset:  offset,
	})
}

func buildQueryFilterFromRequest(q map[string][]string) storage.QueryFilter {
	get := func(k string) string {
		if v, ok := q[k]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}

	filter := storage.QueryFilter{
		Domain:    get("domain"),
		QueryType: get("type"),
	}
	if v := get("chaos_injected"); v != "" {
		filter.ChaosInjected = boolPtr(v == "true")
	}
	if v := get("cached"); v != "" {
		filter.Cached = boolPtr(v == "true")
	}
	if v := get("start"); v != "" {
		filter.Start = parseTimeParamValue(v, time.Time{})
	}
	if v := get("end"); v != "" {
		filter.End = parseTimeParamValue(v, time.Time{})
	}
	return filter
}

func boolPtr(b bool) *bool { return &b }

func parseTimeParamValue(v string, def time.Time) time.Time {
	if v == "" {
		return def
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if d, err := time.ParseDuration(v); err == nil {
		return time.Now().Add(-d)
	}
	return def
}

func parseLimit(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// handleRecentQueries serves the in-memory journal tail, bypassing storage
// entirely for a live-view endpoint that stays fast under load.
func (s *Server) handleRecentQueries(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50)
	logs := s.journal.Recent(limit)
	s.writeJSON(w, http.StatusOK, QueriesResponse{
		Queries: convertQueryLogs(logs),
		Count:   len(logs),
		Limit:   limit,
	})
}

func (s *Server) handleTopDomains(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 10)
	chaosInjected := q.Get("chaos_injected") == "true"

	domains, err := s.storage.GetTopDomains(r.Context(), limit, chaosInjected)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := TopDomainsResponse{Domains: make([]DomainStatsResponse, 0, len(domains))}
	for _, d := range domains {
		resp.Domains = append(resp.Domains, DomainStatsResponse{
			Domain:        d.Domain,
			QueryCount:    d.QueryCount,
			LastQueried:   d.LastQueried,
			ChaosInjected: d.ChaosInjected,
			FirstQueried:  d.FirstQueried,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTraceStatistics(w http.ResponseWriter, r *http.Request) {
	since := parseTimeParamValue(r.URL.Query().Get("since"), time.Now().Add(-24*time.Hour))

	stats, err := s.storage.GetTraceStatistics(r.Context(), since)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, TraceStatisticsResponse{
		Since:         stats.Since,
		Until:         stats.Until,
		TotalInjected: stats.TotalInjected,
		ByStage:       stats.ByStage,
		ByAction:      stats.ByAction,
		ByRule:        stats.ByRule,
		BySource:      stats.BySource,
	})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	cs := s.cache.Stats()
	s.writeJSON(w, http.StatusOK, CacheStatsResponse{
		PositiveEntries:   cs.Entries,
		PositiveEvictions: cs.Evictions,
		StaleServed:       cs.StaleServed,
		NegativeEntries:   s.negcache.Len(),
	})
}

func (s *Server) handleCacheEntries(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 100)

	snap := s.cache.Snapshot()
	entries := make([]CacheEntryResponse, 0, limit)
	for k, e := range snap {
		if len(entries) >= limit {
			break
		}
		entries = append(entries, CacheEntryResponse{
			Name:         k.Name,
			Type:         k.Type.String(),
			Class:        strconv.Itoa(int(k.Class)),
			OriginalTTL:  e.OriginalTTL.String(),
			EffectiveTTL: e.EffectiveTTL.String(),
			Provenance:   e.Provenance,
			InsertedAt:   e.InsertedAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, CacheEntriesResponse{
		Entries: entries,
		Count:   len(entries),
		Total:   len(snap),
	})
}

func (s *Server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	positiveCleared := s.cache.Clear()
	negativeCleared := s.negcache.Clear()

	s.logger.Info("cache purged via API", "positive_cleared", positiveCleared, "negative_cleared", negativeCleared)

	s.writeJSON(w, http.StatusOK, CachePurgeResponse{
		PositiveCleared: positiveCleared,
		NegativeCleared: negativeCleared,
	})
}

func (s *Server) handleUpstreams(w http.ResponseWriter, r *http.Request) {
	if s.forwarder == nil {
		s.writeJSON(w, http.StatusOK, UpstreamsResponse{})
		return
	}

	scorer := s.forwarder.Scorer()
	addrs := scorer.All()
	resp := UpstreamsResponse{Upstreams: make([]UpstreamStatsResponse, 0, len(addrs))}
	for _, addr := range addrs {
		resp.Upstreams = append(resp.Upstreams, UpstreamStatsResponse{
			Address:   addr,
			Score:     scorer.Score(addr),
			Available: scorer.Available(addr),
			MeanRTTMs: float64(scorer.MeanRTT(addr)) / float64(time.Millisecond),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChaosStats(w http.ResponseWriter, r *http.Request) {
	if s.gate == nil {
		s.writeJSON(w, http.StatusOK, ChaosStatsResponse{})
		return
	}
	total, injected := s.gate.Stats()
	var rate float64
	if total > 0 {
		rate = float64(injected) / float64(total)
	}
	s.writeJSON(w, http.StatusOK, ChaosStatsResponse{
		Total:    total,
		Injected: injected,
		Rate:     rate,
	})
}

func (s *Server) handleCuriosity(w http.ResponseWriter, r *http.Request) {
	var walks uint64
	if s.recursive != nil {
		walks = s.recursive.CuriosityWalks()
	}
	s.writeJSON(w, http.StatusOK, CuriosityResponse{Walks: walks})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.currentConfig()
	if cfg == nil {
		s.writeError(w, http.StatusServiceUnavailable, "configuration not available")
		return
	}
	s.writeJSON(w, http.StatusOK, convertConfigResponse(cfg))
}

func (s *Server) handleClientSummaries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"), 50)
	offset := parseLimit(q.Get("offset"), 0)

	clients, err := s.storage.GetClientSummaries(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, ClientSummariesResponse{Clients: clients, Count: len(clients)})
}

func (s *Server) handleUpdateClientProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var profile storage.ClientProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if profile.ClientIP == "" {
		s.writeError(w, http.StatusBadRequest, "client_ip is required")
		return
	}

	if err := s.storage.UpdateClientProfile(r.Context(), &profile); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleClientGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := s.storage.GetClientGroups(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, ClientGroupsResponse{Groups: groups, Count: len(groups)})

	case http.MethodPost, http.MethodPut:
		var group storage.ClientGroup
		if err := json.NewDecoder(r.Body).Decode(&group); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if group.Name == "" {
			s.writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := s.storage.UpsertClientGroup(r.Context(), &group); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, group)

	case http.MethodDelete:
		name := r.URL.Query().Get("name")
		if name == "" {
			s.writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		if err := s.storage.DeleteClientGroup(r.Context(), name); err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleStorageReset(w http.ResponseWriter, r *http.Request) {
	if err := s.storage.Reset(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("storage reset via API")
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
