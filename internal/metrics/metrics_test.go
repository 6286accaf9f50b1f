package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.Rotation("ok")
	m.Rotation("ok")
	m.Rotation("reuse")
	m.ReuseDetected()
	m.TokensRevoked(3)
	m.TokensRevoked(0)
	m.Login("password", "ok")

	require.Equal(t, 2.0, testutil.ToFloat64(m.rotations.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rotations.WithLabelValues("reuse")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reuseDetected))
	require.Equal(t, 3.0, testutil.ToFloat64(m.revokedTokens))
	require.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("password", "ok")))
}

func TestMetrics_ObserveHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveHTTP("POST", "/auth/login", 401, 5*time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/auth/login", "401")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Rotation("ok")
	m.ReuseDetected()
	m.TokensRevoked(1)
	m.SessionIssued()
	m.Login("oauth", "fail")
	m.VerificationToken("password_reset", "issued")
	m.EmailDeliveryFailed("email_verification")
	m.ObserveHTTP("GET", "/", 200, time.Millisecond)
}

func TestNew_RegistersTwiceOnSameRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	require.NoError(t, err)
}
