package server

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/petal-labs/nodeschema/sse"
)

const defaultEventLimit = 500

// EventsResponse is returned by GET /api/events.
type EventsResponse struct {
	ConfigID string       `json:"configId"`
	Events   []sse.Record `json:"events"`
	LastSeq  uint64       `json:"lastSeq"`
}

// handleListEvents returns stored events of one configuration, the
// published one unless ?config names another. ?after and ?limit page
// through the history.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.eventStore == nil {
		writeError(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "event store not configured")
		return
	}
	q := r.URL.Query()
	configID := q.Get("config")
	if configID == "" || configID == "current" {
		configID = s.currentID()
	}
	if configID == "" {
		writeError(w, http.StatusNotFound, "NOT_LOADED", "no configuration loaded")
		return
	}

	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", fmt.Sprintf("invalid after %q", raw))
			return
		}
		after = v
	}
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_PARAM", fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = v
	}

	events, err := s.eventStore.List(r.Context(), configID, after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	latest, err := s.eventStore.LatestSeq(r.Context(), configID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	records := make([]sse.Record, 0, len(events))
	for _, e := range events {
		records = append(records, sse.NewRecord(e))
	}
	writeJSON(w, http.StatusOK, EventsResponse{ConfigID: configID, Events: records, LastSeq: latest})
}

// MetricPoint is one data point of a collected metric. Sums and gauges
// fill Value; histograms fill Count and Sum.
type MetricPoint struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
	Sum        float64           `json:"sum,omitempty"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	points, err := s.collectMetrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "METRICS_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) collectMetrics(ctx context.Context) ([]MetricPoint, error) {
	var rm metricdata.ResourceMetrics
	if err := s.metricsReader.Collect(ctx, &rm); err != nil {
		return nil, err
	}
	points := []MetricPoint{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, MetricPoint{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, MetricPoint{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, MetricPoint{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, MetricPoint{Name: m.Name, Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, MetricPoint{Name: m.Name, Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: dp.Sum})
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, MetricPoint{Name: m.Name, Attributes: attrMap(dp.Attributes), Count: dp.Count, Sum: float64(dp.Sum)})
				}
			}
		}
	}
	slices.SortStableFunc(points, func(a, b MetricPoint) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(attrKey(a.Attributes), attrKey(b.Attributes))
	})
	return points, nil
}

func attrMap(set attribute.Set) map[string]string {
	if set.Len() == 0 {
		return nil
	}
	out := make(map[string]string, set.Len())
	for iter := set.Iter(); iter.Next(); {
		kv := iter.Attribute()
		out[string(kv.Key)] = kv.Value.Emit()
	}
	return out
}

func attrKey(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		keys = append(keys, k+"="+v)
	}
	slices.Sort(keys)
	return strings.Join(keys, ",")
}
