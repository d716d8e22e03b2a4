package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/reports/6f1c8e1a-3b2d-4c5e-9f70-1a2b3c4d5e6f", "/api/v1/reports/{id}"},
		{"/api/v1/frameworks", "/api/v1/frameworks"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.path))
	}
}

func TestMiddleware_RecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/v1/reports/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/reports/:id", "204"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/reports/abc", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	after := counterValue(t, HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/reports/:id", "204"))
	assert.Equal(t, before+1, after)
}
