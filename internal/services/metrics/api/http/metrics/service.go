// Package metrics exposes the metrics telemetry API over HTTP.
package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/louisbranch/metrics.space/internal/services/metrics/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// defaultLoadLimit caps a load query when the caller does not set one.
const defaultLoadLimit = 1000

// Service maps record/load/list requests onto metric storage.
type Service struct {
	store  storage.Database
	clock  func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a metrics service backed by metric storage.
func NewService(store storage.Database, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		clock:  time.Now,
		logger: logger,
		tracer: otel.Tracer("metrics.space/api"),
	}
}

// Register mounts the metrics routes on the router.
func (s *Service) Register(r chi.Router) {
	r.Post("/v1/metrics", s.handleRecord)
	r.Get("/v1/metrics", s.handleList)
	r.Get("/v1/metrics/query", s.handleLoad)
}

type metricPayload struct {
	Identifier  string     `json:"identifier"`
	When        *time.Time `json:"when,omitempty"`
	DoubleValue *float64   `json:"double_value,omitempty"`
	StringValue *string    `json:"string_value,omitempty"`
}

type recordRequest struct {
	Metrics []metricPayload `json:"metrics"`
}

type recordResponse struct{}

type pointPayload struct {
	When        time.Time `json:"when"`
	DoubleValue *float64  `json:"double_value,omitempty"`
	StringValue *string   `json:"string_value,omitempty"`
}

type seriesPayload struct {
	Identifier string         `json:"identifier"`
	Points     []pointPayload `json:"points"`
}

type loadResponse struct {
	Metrics []seriesPayload `json:"metrics"`
}

type listEntryPayload struct {
	Identifier    string    `json:"identifier"`
	LastTimestamp time.Time `json:"last_timestamp"`
}

type listResponse struct {
	Metrics []listEntryPayload `json:"metrics"`
}

// handleRecord writes a batch of metrics in request order. Every entry that
// omits a timestamp shares one "now" captured at the start of the batch.
// Validation failures abort the call; entries written before the failure stay
// committed.
func (s *Service) handleRecord(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "RecordMetrics")
	defer span.End()

	var req recordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "malformed request body")
		return
	}

	now := s.clock().UTC()
	for _, entry := range req.Metrics {
		identifier := strings.TrimSpace(entry.Identifier)
		if identifier == "" {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "metric identifier is required")
			return
		}
		var value storage.Value
		switch {
		case entry.DoubleValue != nil && entry.StringValue != nil:
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "metric must carry exactly one value")
			return
		case entry.DoubleValue != nil:
			value = storage.DoubleValue(*entry.DoubleValue)
		case entry.StringValue != nil:
			value = storage.StringValue(*entry.StringValue)
		default:
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "metric value is required")
			return
		}
		when := now
		if entry.When != nil {
			when = entry.When.UTC()
		}
		if err := s.store.WriteMetric(ctx, storage.Metric{
			Name:  identifier,
			When:  when,
			Value: value,
		}); err != nil {
			s.logger.Error("write metric failed", "metric", identifier, "error", err)
			writeStorageError(w)
			return
		}
	}
	writeJSON(w, http.StatusOK, recordResponse{})
}

// handleLoad answers a prefix/time-range query, grouping points per metric
// name. Group order is unspecified; point order follows storage.
func (s *Service) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "LoadMetrics")
	defer span.End()

	query := r.URL.Query()
	prefix := query.Get("prefix")

	filter := storage.ReadFilter{Limit: defaultLoadLimit}
	if raw := query.Get("start"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "start must be an RFC 3339 timestamp")
			return
		}
		filter.Start = &start
	}
	if raw := query.Get("stop"); raw != "" {
		stop, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "stop must be an RFC 3339 timestamp")
			return
		}
		filter.Stop = &stop
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	found, err := s.store.ReadMetrics(ctx, prefix, filter)
	if err != nil {
		s.logger.Error("read metrics failed", "prefix", prefix, "error", err)
		writeStorageError(w)
		return
	}

	grouped := make(map[string][]pointPayload)
	for _, metric := range found {
		point := pointPayload{When: metric.When}
		switch metric.Value.Kind {
		case storage.ValueString:
			value := metric.Value.Str
			point.StringValue = &value
		default:
			value := metric.Value.Double
			point.DoubleValue = &value
		}
		grouped[metric.Name] = append(grouped[metric.Name], point)
	}

	resp := loadResponse{Metrics: make([]seriesPayload, 0, len(grouped))}
	for name, points := range grouped {
		resp.Metrics = append(resp.Metrics, seriesPayload{
			Identifier: name,
			Points:     points,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleList returns every distinct metric name matching the prefix with the
// latest timestamp observed for it.
func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "ListMetrics")
	defer span.End()

	prefix := r.URL.Query().Get("prefix")
	infos, err := s.store.ListMetrics(ctx, prefix)
	if err != nil {
		s.logger.Error("list metrics failed", "prefix", prefix, "error", err)
		writeStorageError(w)
		return
	}

	resp := listResponse{Metrics: make([]listEntryPayload, 0, len(infos))}
	for _, info := range infos {
		resp.Metrics = append(resp.Metrics, listEntryPayload{
			Identifier:    info.Name,
			LastTimestamp: info.LastSeen,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
