package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nacexportpro/nacexportpro/internal/database"
	"github.com/nacexportpro/nacexportpro/internal/model"
	"gorm.io/gorm"
)

// RunHandler serves recorded export runs.
type RunHandler struct{}

func NewRunHandler() *RunHandler { return &RunHandler{} }

// Health reports API and database status.
func (h *RunHandler) Health(c *gin.Context) {
	if err := database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "DB_UNAVAILABLE",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":   "SUCCESS",
		"status": "healthy",
	})
}

// ListRuns returns recent runs, newest first. Supports status and
// environment filters and a bounded limit.
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := database.GetDB().Model(&model.ExportRun{})
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if env := strings.TrimSpace(c.Query("environment")); env != "" {
		query = query.Where("environment = ?", env)
	}

	var runs []model.ExportRun
	if err := query.Order("start_time desc").Limit(limit).Find(&runs).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "QUERY_FAILED",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "SUCCESS",
		"message": "runs fetched",
		"data": gin.H{
			"count": len(runs),
			"runs":  runs,
		},
	})
}

// GetRun returns one run by ID.
func (h *RunHandler) GetRun(c *gin.Context) {
	id := c.Param("run_id")

	var run model.ExportRun
	err := database.GetDB().First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "NOT_FOUND",
			"message": "run not found",
			"run_id":  id,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "QUERY_FAILED",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    "SUCCESS",
		"message": "run fetched",
		"data":    run,
	})
}
