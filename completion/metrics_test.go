package completion

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCallbacksMetric(t *testing.T) {
	count := func(kind Kind, outcome string) float64 {
		return testutil.ToFloat64(callbacksMetric.WithLabelValues(kind.String(), outcome))
	}
	qualified := count(OneShot, outcomeQualified)
	overrun := count(OneShot, outcomeOverrun)
	ignored := count(Streaming, outcomeIgnored)

	oneShot := NewTracker(OneShot, 1).Callback()
	oneShot([]byte(`{"jsonrpc":"2.0","result":"0x0","id":1}`))
	oneShot([]byte(`{"jsonrpc":"2.0","result":"0x0","id":1}`))

	streaming := NewTracker(Streaming, 1).Callback()
	streaming([]byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{}}`))

	require.Equal(t, qualified+1, count(OneShot, outcomeQualified))
	require.Equal(t, overrun+1, count(OneShot, outcomeOverrun))
	require.Equal(t, ignored+1, count(Streaming, outcomeIgnored))
}
