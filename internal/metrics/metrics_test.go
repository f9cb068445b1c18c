package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("instances are independent", func(t *testing.T) {
		first, second := New(), New()

		first.TokensIssued.WithLabelValues(KindAccess).Inc()

		require.Equal(t, 1.0, testutil.ToFloat64(first.TokensIssued.WithLabelValues(KindAccess)))
		require.Equal(t, 0.0, testutil.ToFloat64(second.TokensIssued.WithLabelValues(KindAccess)))
	})

	t.Run("handler exposes counters", func(t *testing.T) {
		m := New()
		m.RefreshReuseDetected.Inc()
		m.VerifyFailures.WithLabelValues("expired").Add(2)

		srv := httptest.NewServer(m.Handler())
		defer srv.Close()

		resp, err := http.Get(srv.URL)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, string(body), "gophauth_refresh_reuse_detected_total 1")
		require.Contains(t, string(body), `gophauth_token_verify_failures_total{reason="expired"} 2`)
	})
}
