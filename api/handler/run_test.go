package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nacexportpro/nacexportpro/internal/config"
	"github.com/nacexportpro/nacexportpro/internal/database"
	"github.com/nacexportpro/nacexportpro/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestAPI(t *testing.T) *gin.Engine {
	t.Helper()
	require.NoError(t, database.InitSQLite(config.SQLiteConfig{
		Path:            filepath.Join(t.TempDir(), "runs.db"),
		ConnMaxLifetime: time.Hour,
	}))
	t.Cleanup(func() { _ = database.Close() })

	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewRunHandler()
	r.GET("/api/v1/health", h.Health)
	r.GET("/api/v1/runs", h.ListRuns)
	r.GET("/api/v1/runs/:run_id", h.GetRun)
	return r
}

func seedRuns(t *testing.T, runs ...model.ExportRun) {
	t.Helper()
	for i := range runs {
		require.NoError(t, database.GetDB().Create(&runs[i]).Error)
	}
}

func doGet(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestHealth(t *testing.T) {
	r := setupTestAPI(t)
	w, body := doGet(t, r, "/api/v1/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestListRunsNewestFirstWithFilters(t *testing.T) {
	r := setupTestAPI(t)
	base := time.Date(2026, time.August, 15, 3, 0, 0, 0, time.UTC)
	seedRuns(t,
		model.ExportRun{ID: "run-1", Environment: "prod", Host: "nac-1", Status: model.RunStatusSuccess, StartTime: base},
		model.ExportRun{ID: "run-2", Environment: "prod", Host: "nac-1", Status: model.RunStatusFailed, ErrorClass: model.ErrClassStepTimeout, StartTime: base.Add(24 * time.Hour)},
		model.ExportRun{ID: "run-3", Environment: "staging", Host: "nac-2", Status: model.RunStatusSuccess, StartTime: base.Add(48 * time.Hour)},
	)

	w, body := doGet(t, r, "/api/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	runs := data["runs"].([]interface{})
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].(map[string]interface{})["id"])

	_, body = doGet(t, r, "/api/v1/runs?status=failed")
	data = body["data"].(map[string]interface{})
	runs = data["runs"].([]interface{})
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].(map[string]interface{})["id"])

	_, body = doGet(t, r, "/api/v1/runs?environment=staging")
	data = body["data"].(map[string]interface{})
	runs = data["runs"].([]interface{})
	require.Len(t, runs, 1)
	assert.Equal(t, "run-3", runs[0].(map[string]interface{})["id"])
}

func TestGetRun(t *testing.T) {
	r := setupTestAPI(t)
	seedRuns(t, model.ExportRun{
		ID:         "run-42",
		Host:       "nac-1",
		Status:     model.RunStatusFailed,
		FailedStep: 3,
		FailedName: "report-completion",
		ErrorClass: model.ErrClassStepTimeout,
		StartTime:  time.Now(),
	})

	w, body := doGet(t, r, "/api/v1/runs/run-42")
	require.Equal(t, http.StatusOK, w.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "report-completion", data["failed_name"])
	assert.Equal(t, float64(3), data["failed_step"])

	w, _ = doGet(t, r, "/api/v1/runs/run-missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
