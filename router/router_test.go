package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/l3montree-dev/devguard-policy/controllers"
	"github.com/l3montree-dev/devguard-policy/integrationtestutil"
	"github.com/l3montree-dev/devguard-policy/middlewares"
	"github.com/stretchr/testify/assert"
)

func TestOpsRoutes(t *testing.T) {
	db := integrationtestutil.NewSQLiteDB(t)
	srv := middlewares.Server()
	NewAPIV1Router(srv, db, nil, &controllers.MergeRequestController{}, &controllers.ComplianceController{})

	t.Run("should report a healthy database", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "healthy")
	})

	t.Run("should expose prometheus metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})

	t.Run("should answer unknown routes with a json error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist/", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "message")
	})
}
