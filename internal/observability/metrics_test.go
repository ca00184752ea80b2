package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordTokenRefresh(t *testing.T) {
	before := counterValue(t, tokenRefreshCounter.WithLabelValues("rejected"))
	RecordTokenRefresh("rejected")
	require.Equal(t, before+1, counterValue(t, tokenRefreshCounter.WithLabelValues("rejected")))
}

func TestRecordActivitiesPersisted(t *testing.T) {
	before := counterValue(t, upsertedCounter)
	ts := time.Unix(1714550000, 0)
	RecordActivitiesPersisted(3, ts)
	RecordActivitiesPersisted(0, time.Now())
	require.Equal(t, before+3, counterValue(t, upsertedCounter))

	var m dto.Metric
	require.NoError(t, lastPersistGauge.Write(&m))
	require.Equal(t, float64(ts.Unix()), m.GetGauge().GetValue())
}
