package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AndradeTK/ofertassertao/app/database"
	"github.com/AndradeTK/ofertassertao/app/pipeline"
)

// settingKeys are the toggles operators may flip at runtime.
var settingKeys = []string{
	database.SettingShopeeEnabled,
	database.SettingMeliEnabled,
	database.SettingAliExpressEnabled,
	database.SettingAmazonEnabled,
}

func NewHandler(history database.HistoryRepository, pending database.PendingRepository,
	categories database.CategoryRepository, settings database.SettingRepository,
	pipe PipelineInterface, mon MonitorInterface, hub *pipeline.Hub, version string) *Handler {
	return &Handler{
		history:    history,
		pending:    pending,
		categories: categories,
		settings:   settings,
		pipeline:   pipe,
		monitor:    mon,
		hub:        hub,
		version:    version,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	sent24h, err := h.history.CountSince(24)
	if err != nil {
		slog.Error("Database error", "operation", "count_history", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	pendingCount, err := h.pending.CountPending()
	if err != nil {
		slog.Error("Database error", "operation", "count_pending", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sent_last_24h": sent24h,
		"pending":       pendingCount,
		"queue":         h.pipeline.QueueStatus(),
		"sources":       h.monitor.Statuses(),
	})
}

func (h *Handler) ListPending(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	promos, err := h.pending.ListPending(limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_pending", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pending": promos,
		"count":   len(promos),
	})
}

// ApprovePending releases a reviewed promotion back into the pipeline.
func (h *Handler) ApprovePending(c *gin.Context) {
	h.resolvePending(c, true)
}

func (h *Handler) RejectPending(c *gin.Context) {
	h.resolvePending(c, false)
}

func (h *Handler) resolvePending(c *gin.Context, approved bool) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id required"})
		return
	}

	promo, err := h.pending.Resolve(id, approved)
	if err != nil {
		slog.Error("Database error", "operation", "resolve_pending", "id", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if promo == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pending promotion not found"})
		return
	}

	if approved {
		h.pipeline.SubmitApproved(*promo)
	}
	h.pipeline.PublishPendingCount()

	slog.Info("Pending promotion resolved", "id", id, "approved", approved)

	c.JSON(http.StatusOK, gin.H{
		"id":       id,
		"approved": approved,
	})
}

func (h *Handler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.pipeline.QueueStatus())
}

func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	entries, err := h.history.GetRecent(limit)
	if err != nil {
		slog.Error("Database error", "operation", "get_history", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

func (h *Handler) GetSettings(c *gin.Context) {
	out := make(map[string]bool, len(settingKeys))
	for _, key := range settingKeys {
		out[key] = h.settings.GetBool(key, true)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) SetSetting(c *gin.Context) {
	key := c.Param("key")

	known := false
	for _, candidate := range settingKeys {
		if candidate == key {
			known = true
			break
		}
	}
	if !known {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown setting"})
		return
	}

	var body struct {
		Value bool `json:"value"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"value\": bool}"})
		return
	}

	value := "false"
	if body.Value {
		value = "true"
	}
	if err := h.settings.Set(key, value); err != nil {
		slog.Error("Database error", "operation", "set_setting", "key", key, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	slog.Info("Setting updated", "key", key, "value", value)

	c.JSON(http.StatusOK, gin.H{key: body.Value})
}

func (h *Handler) ListCategories(c *gin.Context) {
	categories, err := h.categories.List()
	if err != nil {
		slog.Error("Database error", "operation", "list_categories", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

// StreamEvents pushes hub events to the client as SSE until it disconnects.
func (h *Handler) StreamEvents(c *gin.Context) {
	events := h.hub.Subscribe()
	defer h.hub.Unsubscribe(events)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(event.Type, event)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
