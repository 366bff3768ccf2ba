package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m, err := InitMetrics()
	require.NoError(t, err)
	return m, reader
}

// sums returns every int64 sum data point of the named instrument.
func sums(t *testing.T, reader *sdkmetric.ManualReader, name string) []metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			return sum.DataPoints
		}
	}
	return nil
}

func attr(dp metricdata.DataPoint[int64], key string) string {
	v, _ := dp.Attributes.Value(attribute.Key(key))
	return v.Emit()
}

func TestMetrics_RecordOperations(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordRecordOperation(ctx, "patient", "create")
	m.RecordRecordOperation(ctx, "patient", "create")
	m.RecordRecordOperation(ctx, "referral", "answered")

	points := sums(t, reader, "clinical_record_operations_total")
	require.Len(t, points, 2)
	counts := map[string]int64{}
	for _, dp := range points {
		counts[attr(dp, "entity")+":"+attr(dp, "operation")] = dp.Value
	}
	assert.Equal(t, map[string]int64{"patient:create": 2, "referral:answered": 1}, counts)
}

func TestMetrics_AuthAndPermissions(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAuthFailure(ctx, "invalid_credentials")
	m.RecordPermissionCheck(ctx, "user:manage", false)
	m.RecordUserOperation(ctx, "deactivate")

	failures := sums(t, reader, "auth_failures_total")
	require.Len(t, failures, 1)
	assert.Equal(t, "invalid_credentials", attr(failures[0], "reason"))

	checks := sums(t, reader, "permission_checks_total")
	require.Len(t, checks, 1)
	assert.Equal(t, "false", attr(checks[0], "allowed"))
}

func TestHTTPMiddleware_UsesRouteTemplate(t *testing.T) {
	m, reader := newTestMetrics(t)

	router := mux.NewRouter()
	router.Use(m.HTTPMiddleware)
	router.HandleFunc("/patients/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/patients/42", nil))

	points := sums(t, reader, "http_server_requests_total")
	require.Len(t, points, 1)
	assert.Equal(t, "/patients/{id}", attr(points[0], "http_route"))
	assert.Equal(t, "404", attr(points[0], "http_status_code"))
}

func TestInitProvider_DisabledInstallsNothing(t *testing.T) {
	p, err := InitProvider(context.Background(), Config{ServiceName: "test"}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, p.TracerProvider)
	assert.Nil(t, p.MeterProvider)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	t.Setenv("OTEL_SERVICE_NAME", "")
	cfg := LoadConfig("clinical-records-service")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "clinical-records-service", cfg.ServiceName)

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OTEL_METRICS_EXPORT_INTERVAL", "5s")
	cfg = LoadConfig("clinical-records-service")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4317", cfg.Endpoint)
	assert.Equal(t, "5s", cfg.MetricsInterval.String())

	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
	assert.Equal(t, 1.0, LoadConfig("svc").SamplerRatio)
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")
	assert.Equal(t, 0.25, LoadConfig("svc").SamplerRatio)
}

func TestConfig_Sampler(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"always_on", "AlwaysOnSampler"},
		{"always_off", "AlwaysOffSampler"},
		{"traceidratio", "TraceIDRatioBased{0.5}"},
		{"parentbased_always_off", "ParentBased{root:AlwaysOffSampler"},
		{"parentbased_traceidratio", "ParentBased{root:TraceIDRatioBased{0.5}"},
		{"bogus", "ParentBased{root:AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Sampler: tt.name, SamplerRatio: 0.5}
			assert.Contains(t, cfg.sampler().Description(), tt.want)
		})
	}
}
