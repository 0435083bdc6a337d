package http

import (
	"context"
	"encoding/csv"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"content-refinery/internal/collector"
	"content-refinery/internal/coordinator"
	"content-refinery/internal/dto"
	"content-refinery/internal/entity"
	"content-refinery/pkg/common"
	"content-refinery/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	maxListLimit   = 100
	maxExportLimit = 1000
)

// Handler serves the refinery HTTP API.
type Handler struct {
	coord  *coordinator.Coordinator
	db     *gorm.DB
	logger *logger.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(coord *coordinator.Coordinator, db *gorm.DB, log *logger.Logger) *Handler {
	return &Handler{coord: coord, db: db, logger: log}
}

// RegisterRoutes registers all routes on the Echo instance. Read
// endpoints sit behind a per-IP rate limit; webhooks are trusted and
// unlimited.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Health)
	e.GET("/health", h.Health)

	e.POST("/webhook/chat", h.WebhookChat)
	e.POST("/webhook/:kind", h.WebhookGeneric)
	e.POST("/ingest", h.Ingest)

	read := e.Group("", middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(1),
			Burst:     60,
			ExpiresIn: time.Minute,
		}),
	}))
	read.GET("/signals", h.ListSignals)
	read.GET("/signals/export", h.ExportSignals)
	read.GET("/signals/sources", h.SignalSources)
	read.GET("/stats", h.Stats)

	e.GET("/sources/feed", h.ListFeeds)
	e.POST("/sources/feed", h.AddFeed)
	e.DELETE("/sources/feed", h.DeleteFeed)

	e.POST("/admin/digest", h.AdminDigest)
	e.POST("/admin/sql", h.AdminSQL)

	e.GET("/knowledge/sync", h.KnowledgeSync)
	e.POST("/knowledge/mark-synced", h.KnowledgeMarkSynced)
}

// Health is the liveness probe.
func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// WebhookChat accepts a chat platform update. The response is always
// best-effort; pipeline errors are internal.
func (h *Handler) WebhookChat(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusInternalServerError, "Error")
	}

	rec, ok, err := collector.NormalizeChatUpdate(body)
	if err != nil {
		h.logger.Warn("Malformed chat update", logger.ErrorField(err))
		return c.String(http.StatusOK, "OK")
	}
	if ok {
		h.coord.OnWebhook(c.Request().Context(), rec)
	}
	return c.String(http.StatusOK, "OK")
}

// WebhookGeneric accepts generic, discord and slack webhooks. Slack
// URL verification is answered with the challenge echo.
func (h *Handler) WebhookGeneric(c echo.Context) error {
	kind := c.Param("kind")
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusInternalServerError, "Error")
	}

	var rec dto.IngestRecord
	var ok bool
	switch kind {
	case "generic":
		rec, ok, err = collector.NormalizeGeneric(body)
	case "discord":
		rec, ok, err = collector.NormalizeDiscord(body)
	case "slack":
		var challenge string
		rec, ok, challenge, err = collector.NormalizeSlack(body)
		if err == nil && challenge != "" {
			return c.JSON(http.StatusOK, echo.Map{"challenge": challenge})
		}
	default:
		return c.JSON(http.StatusNotFound, echo.Map{"error": "unknown webhook kind"})
	}

	if err != nil {
		h.logger.Warn("Malformed webhook body", logger.ErrorField(err), logger.StringField("kind", kind))
		return c.String(http.StatusOK, "OK")
	}
	if ok {
		h.coord.OnWebhook(c.Request().Context(), rec)
	}
	return c.String(http.StatusOK, "OK")
}

// Ingest runs a direct ingest and returns the resulting item id.
func (h *Handler) Ingest(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusInternalServerError, "Error")
	}

	rec, ok, err := collector.NormalizeGeneric(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request payload"})
	}
	if !ok {
		return c.JSON(http.StatusOK, echo.Map{"status": dto.IngestStatusNoContent})
	}

	result, err := h.coord.OnIngest(c.Request().Context(), rec)
	if err != nil {
		h.logger.Error("Direct ingest failed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "ingest failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"id": result.ItemID, "status": result.Status})
}

// ListSignals serves the paginated signal listing.
func (h *Handler) ListSignals(c echo.Context) error {
	filter := parseSignalFilter(c, maxListLimit)

	rows, total, err := h.coord.Store.ListSignals(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list signals", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list signals"})
	}

	return c.JSON(http.StatusOK, dto.SignalListResponse{
		Signals: rows,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	})
}

// ExportSignals streams up to 1000 signals as JSON or CSV.
func (h *Handler) ExportSignals(c echo.Context) error {
	filter := parseSignalFilter(c, maxExportLimit)

	rows, _, err := h.coord.Store.Signals.List(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("Failed to export signals", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to export signals"})
	}

	if c.QueryParam("format") == "csv" {
		c.Response().Header().Set(echo.HeaderContentType, "text/csv")
		c.Response().WriteHeader(http.StatusOK)
		w := csv.NewWriter(c.Response())
		_ = w.Write([]string{"id", "created_at", "summary", "sentiment", "relevance_score", "urgent", "source_name"})
		for _, s := range rows {
			_ = w.Write([]string{
				s.ID,
				strconv.FormatInt(s.CreatedAt, 10),
				s.Summary,
				s.Sentiment,
				strconv.Itoa(s.RelevanceScore),
				strconv.FormatBool(s.Urgent),
				s.SourceName,
			})
		}
		w.Flush()
		return nil
	}

	return c.JSON(http.StatusOK, echo.Map{"signals": rows})
}

// SignalSources lists distinct source names.
func (h *Handler) SignalSources(c echo.Context) error {
	sources, err := h.coord.Store.Signals.DistinctSources(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to list sources", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list sources"})
	}
	return c.JSON(http.StatusOK, echo.Map{"sources": sources})
}

// Stats serves the O(1) counters.
func (h *Handler) Stats(c echo.Context) error {
	stats, err := h.coord.Store.Stats(c.Request().Context())
	if err != nil {
		h.logger.Error("Failed to read stats", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to read stats"})
	}
	return c.JSON(http.StatusOK, stats)
}

// ListFeeds lists registered feed channels.
func (h *Handler) ListFeeds(c echo.Context) error {
	feeds, err := h.coord.Store.Channels.ListByType(c.Request().Context(), common.ChannelTypeFeed)
	if err != nil {
		h.logger.Error("Failed to list feeds", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list feeds"})
	}
	return c.JSON(http.StatusOK, echo.Map{"feeds": feeds})
}

// AddFeed registers a feed channel through the writer.
func (h *Handler) AddFeed(c echo.Context) error {
	var req struct {
		Name             string `json:"name"`
		URL              string `json:"url"`
		FetchFullContent bool   `json:"fetch_full_content"`
	}
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "url is required"})
	}
	if req.Name == "" {
		req.Name = req.URL
	}

	var id string
	var upsertErr error
	err := h.coord.Do(c.Request().Context(), "add-feed", func(ctx context.Context) {
		id, _, upsertErr = h.coord.Store.UpsertChannel(ctx, &entity.Channel{
			Name:             req.Name,
			Type:             common.ChannelTypeFeed,
			FeedURL:          req.URL,
			FetchFullContent: req.FetchFullContent,
		})
	})
	if err == nil {
		err = upsertErr
	}
	if err != nil {
		h.logger.Error("Failed to add feed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to add feed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id})
}

// DeleteFeed removes a feed channel by id.
func (h *Handler) DeleteFeed(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "id is required"})
	}

	var deleted bool
	var delErr error
	err := h.coord.Do(c.Request().Context(), "delete-feed", func(ctx context.Context) {
		deleted, delErr = h.coord.Store.DeleteChannel(ctx, id)
	})
	if err == nil {
		err = delErr
	}
	if err != nil {
		h.logger.Error("Failed to delete feed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete feed"})
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "feed not found"})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// AdminDigest forces re-analysis of the named items. Used to reclaim
// deferred PDF documents.
func (h *Handler) AdminDigest(c echo.Context) error {
	var req struct {
		SourceIDs []string `json:"source_ids"`
		// Original camelCase name accepted for the bridge scripts.
		SourceIDsAlt []string `json:"sourceIds"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request payload"})
	}
	ids := req.SourceIDs
	if len(ids) == 0 {
		ids = req.SourceIDsAlt
	}
	if len(ids) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "source_ids is required"})
	}

	if err := h.coord.ForceReanalyze(c.Request().Context(), ids); err != nil {
		h.logger.Error("Forced re-analysis failed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "reprocess failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "queued": len(ids)})
}

// AdminSQL runs a single read-only SELECT for the offline bridge
// tooling.
func (h *Handler) AdminSQL(c echo.Context) error {
	var req struct {
		SQL string `json:"sql"`
	}
	if err := c.Bind(&req); err != nil || req.SQL == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sql is required"})
	}

	query := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(req.SQL), ";"))
	if !strings.HasPrefix(strings.ToLower(query), "select") || strings.Contains(query, ";") {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "only a single SELECT statement is allowed"})
	}

	var rows []map[string]interface{}
	if err := h.db.WithContext(c.Request().Context()).Raw(query).Scan(&rows).Error; err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, echo.Map{"result": rows})
}

// KnowledgeSync lists signal items the knowledge-graph bridge has not
// consumed yet.
func (h *Handler) KnowledgeSync(c echo.Context) error {
	items, err := h.coord.Store.Items.FindUnsyncedSignals(c.Request().Context(), 50)
	if err != nil {
		h.logger.Error("Failed to list unsynced items", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to list items"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// KnowledgeMarkSynced flags items as consumed by the bridge.
func (h *Handler) KnowledgeMarkSynced(c echo.Context) error {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ids is required"})
	}

	var markErr error
	err := h.coord.Do(c.Request().Context(), "mark-synced", func(ctx context.Context) {
		markErr = h.coord.Store.Items.MarkKnowledgeSynced(ctx, req.IDs)
	})
	if err == nil {
		err = markErr
	}
	if err != nil {
		h.logger.Error("Failed to mark items synced", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to mark items"})
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "marked": len(req.IDs)})
}

// parseSignalFilter reads the listing query params, clamping the
// limit.
func parseSignalFilter(c echo.Context, maxLimit int) dto.SignalFilter {
	filter := dto.SignalFilter{
		Source:    c.QueryParam("source"),
		Sentiment: c.QueryParam("sentiment"),
		Query:     c.QueryParam("q"),
		Limit:     20,
	}

	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if v := c.QueryParam("urgent"); v != "" {
		urgent := v == "true" || v == "1"
		filter.Urgent = &urgent
	}
	if v := c.QueryParam("from"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.FromMs = n
		}
	}
	if v := c.QueryParam("to"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.ToMs = n
		}
	}
	return filter
}
