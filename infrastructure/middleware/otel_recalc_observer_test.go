package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-cubecomp/internal/ports"
)

// recordingMetrics captures every metric call for assertions.
type recordingMetrics struct {
	mu        sync.Mutex
	latencies []string
	counters  map[string]float64
	gauges    map[string]float64
	labels    []map[string]string
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counters: map[string]float64{}, gauges: map[string]float64{}}
}

func (m *recordingMetrics) RecordLatency(operation string, _ time.Duration, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, operation)
	m.labels = append(m.labels, labels)
}

func (m *recordingMetrics) RecordCounter(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metric] += value
}

func (m *recordingMetrics) RecordGauge(metric string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metric] = value
}

func TestOTelRecalcObserver(t *testing.T) {
	tests := []struct {
		name       string
		scope      ports.RecalcScope
		rows       int
		err        error
		wantStatus string
		wantGauge  bool
	}{
		{
			name:       "discipline success",
			scope:      ports.RecalcScope{CompetitionID: 1, DisciplineID: 3},
			rows:       12,
			wantStatus: "success",
			wantGauge:  true,
		},
		{
			name:       "overall failure",
			scope:      ports.RecalcScope{CompetitionID: 1},
			err:        errors.New("store unavailable"),
			wantStatus: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := newRecordingMetrics()
			obs := NewOTelRecalcObserver(metrics)

			ctx, done := obs.Start(context.Background(), tt.scope)
			require.NotNil(t, ctx)
			done(tt.rows, tt.err)

			assert.Equal(t, []string{"recalculate"}, metrics.latencies)
			require.Len(t, metrics.labels, 1)
			assert.Equal(t, tt.scope.Kind(), metrics.labels[0]["scope"])
			assert.Equal(t, tt.wantStatus, metrics.labels[0]["status"])
			assert.Equal(t, 1.0, metrics.counters[MetricRecalculations])

			gauge, ok := metrics.gauges[MetricLeaderboardRows]
			assert.Equal(t, tt.wantGauge, ok)
			if tt.wantGauge {
				assert.Equal(t, float64(tt.rows), gauge)
			}
		})
	}
}

func TestOTelRecalcObserver_NilMetrics(t *testing.T) {
	obs := NewOTelRecalcObserver(nil)
	_, done := obs.Start(context.Background(), ports.RecalcScope{CompetitionID: 2})
	assert.NotPanics(t, func() { done(0, nil) })
}

func TestRecalcScope_Kind(t *testing.T) {
	assert.Equal(t, "overall", ports.RecalcScope{CompetitionID: 1}.Kind())
	assert.Equal(t, "discipline", ports.RecalcScope{CompetitionID: 1, DisciplineID: 2}.Kind())
}
