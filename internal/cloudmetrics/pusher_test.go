package cloudmetrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
	"github.com/smallbiznis/procura/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPusher(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MetricsPushConfig
		wantErr bool
	}{
		{"remote write", config.MetricsPushConfig{Exporter: ExporterRemoteWrite, Endpoint: "https://metrics.example.com/api/v1/write"}, false},
		{"pushgateway", config.MetricsPushConfig{Exporter: ExporterPushgateway, Endpoint: "http://pushgateway:9091"}, false},
		{"missing endpoint", config.MetricsPushConfig{Exporter: ExporterRemoteWrite}, true},
		{"unknown exporter", config.MetricsPushConfig{Exporter: "statsd", Endpoint: "http://x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPusher(tt.cfg, "procura", nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}
}

func TestRemoteWritePush(t *testing.T) {
	var got prompb.WriteRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		raw, err := snappy.Decode(nil, body)
		require.NoError(t, err)
		require.NoError(t, got.Unmarshal(raw))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	jobs := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "procura_search_jobs"}, []string{"status"})
	registry.MustRegister(jobs)
	jobs.WithLabelValues("running").Set(3)

	p := NewRemoteWritePusher(srv.URL, "secret")
	p.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	require.NoError(t, p.Push(context.Background(), registry))

	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "snappy", headers.Get("Content-Encoding"))
	require.Len(t, got.Timeseries, 1)
	ts := got.Timeseries[0]
	assert.Equal(t, []prompb.Label{
		{Name: "__name__", Value: "procura_search_jobs"},
		{Name: "status", Value: "running"},
	}, ts.Labels)
	require.Len(t, ts.Samples, 1)
	assert.Equal(t, 3.0, ts.Samples[0].Value)
	assert.Equal(t, int64(1_700_000_000_000), ts.Samples[0].Timestamp)
}

func TestRemoteWritePushReportsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	registry := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "procura_organizations_total"})
	registry.MustRegister(g)
	g.Set(1)

	err := NewRemoteWritePusher(srv.URL, "").Push(context.Background(), registry)
	assert.ErrorContains(t, err, "400")
}

func TestBuildSeriesExpandsHistograms(t *testing.T) {
	registry := prometheus.NewRegistry()
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "procura_step_seconds", Buckets: []float64{1, 5}})
	registry.MustRegister(h)
	h.Observe(2)
	h.Observe(4)

	families, err := registry.Gather()
	require.NoError(t, err)
	series := buildSeries(families, 1)

	values := map[string]float64{}
	for _, s := range series {
		for _, l := range s.Labels {
			if l.Name == "__name__" {
				values[l.Value] = s.Samples[0].Value
			}
		}
	}
	assert.Equal(t, map[string]float64{
		"procura_step_seconds_sum":   6,
		"procura_step_seconds_count": 2,
	}, values)
}
