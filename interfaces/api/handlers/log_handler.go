package handlers

import (
	"crypto/subtle"
	"os"

	"github.com/gofiber/fiber/v2"

	"grabpic/pkg/config"
	"grabpic/pkg/logger"
	"grabpic/pkg/utils"
)

// LogHandler serves the operator log surface, guarded by the admin
// dashboard key.
type LogHandler struct {
	dashboardKey string
}

// NewLogHandler creates a new log handler
func NewLogHandler(cfg *config.Config) *LogHandler {
	return &LogHandler{
		dashboardKey: cfg.Admin.DashboardKey,
	}
}

// requireSystemAdmin verifies the dashboard key from the Authorization
// bearer or the X-Admin-Token header. The compare is constant time. When
// it returns false the response has already been written.
func (h *LogHandler) requireSystemAdmin(c *fiber.Ctx) (bool, error) {
	if h.dashboardKey == "" {
		return false, utils.ErrorResponse(c, fiber.StatusInternalServerError, "Admin dashboard key not configured", nil)
	}

	token := utils.ExtractTokenFromHeader(c.Get("Authorization"))
	if token == "" {
		token = c.Get("X-Admin-Token")
	}
	if token == "" {
		return false, utils.UnauthorizedResponse(c, "Admin key required")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.dashboardKey)) != 1 {
		return false, utils.ForbiddenResponse(c, "Invalid admin key")
	}
	return true, nil
}

// GetLogs returns log entries
// @Summary Get application logs
// @Tags Admin
// @Security AdminToken
// @Param lines query int false "Number of lines" default(100)
// @Param level query string false "Filter by level (DEBUG, INFO, WARN, ERROR)"
// @Param category query string false "Filter by category (auth, sync, cluster, match, worker, guest, api, db, drive, face, websocket)"
// @Param search query string false "Search in message/action"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/logs [get]
func (h *LogHandler) GetLogs(c *fiber.Ctx) error {
	if ok, resp := h.requireSystemAdmin(c); !ok {
		return resp
	}

	opts := logger.ReadLogsOptions{
		Lines:    c.QueryInt("lines", 100),
		Level:    logger.Level(c.Query("level")),
		Category: logger.Category(c.Query("category")),
		Search:   c.Query("search"),
	}

	entries, err := logger.ReadLogs(opts)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to read logs", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"entries": entries,
			"count":   len(entries),
			"filters": fiber.Map{
				"lines":    opts.Lines,
				"level":    opts.Level,
				"category": opts.Category,
				"search":   opts.Search,
			},
		},
	})
}

// GetLogFiles returns list of log files
// @Summary List log files
// @Tags Admin
// @Security AdminToken
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/logs/files [get]
func (h *LogHandler) GetLogFiles(c *fiber.Ctx) error {
	if ok, resp := h.requireSystemAdmin(c); !ok {
		return resp
	}

	files, err := logger.ListLogFiles()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to list log files", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"files":  files,
			"logDir": logger.GetLogDir(),
		},
	})
}

// GetLogStats returns log statistics
// @Summary Get log statistics
// @Tags Admin
// @Security AdminToken
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/admin/logs/stats [get]
func (h *LogHandler) GetLogStats(c *fiber.Ctx) error {
	if ok, resp := h.requireSystemAdmin(c); !ok {
		return resp
	}

	// Today's file only; stats are a quick operator glance, not analytics
	allLogs, _ := logger.ReadLogs(logger.ReadLogsOptions{Lines: 1000})

	levelCounts := map[string]int{
		"DEBUG": 0,
		"INFO":  0,
		"WARN":  0,
		"ERROR": 0,
	}
	categoryCounts := map[string]int{}

	for _, entry := range allLogs {
		levelCounts[string(entry.Level)]++
		categoryCounts[string(entry.Category)]++
	}

	var totalSize int64
	files, _ := logger.ListLogFiles()
	logDir := logger.GetLogDir()
	for _, f := range files {
		if info, err := os.Stat(logDir + "/" + f); err == nil {
			totalSize += info.Size()
		}
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_entries":    len(allLogs),
			"by_level":         levelCounts,
			"by_category":      categoryCounts,
			"total_files":      len(files),
			"total_size_bytes": totalSize,
		},
	})
}
