package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() { gin.SetMode(gin.TestMode) }

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestManagerAbortStopsChain(t *testing.T) {
	req := require.New(t)
	m := NewManager()
	var seen []string
	m.Add(func(c *gin.Context) { seen = append(seen, "first") })
	m.Add(func(c *gin.Context) { c.AbortWithStatus(http.StatusTeapot) })
	m.Add(func(c *gin.Context) { seen = append(seen, "never") })

	r := gin.New()
	r.Use(m.Use())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodGet, "/x")
	req.Equal(http.StatusTeapot, w.Code)
	req.Equal([]string{"first"}, seen)

	m.Clear()
	req.Zero(m.Len())
	req.Equal(http.StatusOK, do(r, http.MethodGet, "/x").Code)
}

func TestMatrixGuard(t *testing.T) {
	req := require.New(t)
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	r := gin.New()
	GET(r, "/open", ok, RouteOpt{})
	PUT(r, "/off", ok, RouteOpt{Matrix: true})
	PUT(r, "/on", ok, RouteOpt{Matrix: true, MatrixEnabled: true})

	req.Equal(http.StatusNoContent, do(r, http.MethodGet, "/open").Code)
	off := do(r, http.MethodPut, "/off")
	req.Equal(http.StatusNotFound, off.Code)
	req.JSONEq(`{"detail":"Matrix bridge is not enabled"}`, off.Body.String())
	req.Equal(http.StatusNoContent, do(r, http.MethodPut, "/on").Code)
}

func TestRecoveryAndAccessLog(t *testing.T) {
	req := require.New(t)
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	r := gin.New()
	r.Use(AccessLog(log), Recovery(log))
	r.GET("/boom", func(c *gin.Context) { panic("kaboom") })

	w := do(r, http.MethodGet, "/boom")
	req.Equal(http.StatusInternalServerError, w.Code)
	req.Equal(1, logs.FilterMessage("[HTTP] panic recovered").Len())

	access := logs.FilterMessage("[HTTP] request").All()
	req.Len(access, 1)
	req.Equal(int64(http.StatusInternalServerError), access[0].ContextMap()["status"])
}
