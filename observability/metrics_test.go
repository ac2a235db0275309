package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", statusClass(201))
	require.Equal(t, "4xx", statusClass(425))
	require.Equal(t, "unknown", statusClass(0))
}

func TestBigToUnits(t *testing.T) {
	require.Equal(t, 0.0, bigToUnits(nil))
	require.Equal(t, 2.5, bigToUnits(new(big.Int).Mul(big.NewInt(25), big.NewInt(1e17))))
}

func TestAPIObserveCountsByRoute(t *testing.T) {
	m := API()
	before := testutil.ToFloat64(m.requests.WithLabelValues("GET /v1/gardens", "2xx"))
	m.Observe("GET /v1/gardens", 200, time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.requests.WithLabelValues("GET /v1/gardens", "2xx")))
}
