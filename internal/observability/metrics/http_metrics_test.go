package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := newHTTPMetrics(prometheus.NewRegistry(), Config{ServiceName: "payflow"})
	if err != nil {
		t.Fatalf("new http metrics: %v", err)
	}

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/v1/payments/:id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/payments/pi_1", nil))
	}

	got := testutil.ToFloat64(m.requests.WithLabelValues("/v1/payments/:id", http.MethodGet, "404"))
	if got != 2 {
		t.Fatalf("expected 2 requests, got %v", got)
	}
}
