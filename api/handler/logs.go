package handler

import (
	"bufio"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nacexportpro/nacexportpro/internal/config"
)

// LogsHandler exposes the exporter's log file for quick diagnosis without
// shell access to the cron host.
type LogsHandler struct{}

func NewLogsHandler() *LogsHandler { return &LogsHandler{} }

// TailLogs returns the last N log lines, optionally filtered by keyword
// and level.
func (h *LogsHandler) TailLogs(c *gin.Context) {
	cfg := config.Get()
	if cfg == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "CONFIG_MISSING", "message": "configuration not initialized"})
		return
	}
	path := strings.TrimSpace(cfg.Log.FilePath)
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "LOG_PATH_EMPTY", "message": "log file path not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	q := strings.TrimSpace(c.Query("q"))
	lvl := strings.TrimSpace(c.Query("level"))

	lines, err := readAllLines(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "READ_FAILED", "message": "failed to read log file: " + err.Error()})
		return
	}

	filtered := make([]string, 0, len(lines))
	for _, ln := range lines {
		if q != "" && !strings.Contains(strings.ToLower(ln), strings.ToLower(q)) {
			continue
		}
		if lvl != "" {
			// Works for both the json and text formats.
			lc := strings.ToLower(ln)
			if !(strings.Contains(lc, "\"level\":\""+strings.ToLower(lvl)+"\"") || strings.Contains(lc, strings.ToLower(lvl))) {
				continue
			}
		}
		filtered = append(filtered, ln)
	}

	start := 0
	if len(filtered) > limit {
		start = len(filtered) - limit
	}
	tail := filtered[start:]

	c.JSON(http.StatusOK, gin.H{
		"code":    "SUCCESS",
		"message": "logs fetched",
		"data": gin.H{
			"path":  path,
			"count": len(tail),
			"lines": tail,
		},
	})
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err == nil && info.Size() == 0 {
		return []string{}, nil
	}
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for s.Scan() {
		lines = append(lines, s.Text())
	}
	return lines, s.Err()
}
