package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"tilecast/internal/core/domain"
	"tilecast/internal/core/services"
	"tilecast/internal/infrastructure/monitoring"
	apperrors "tilecast/pkg/errors"
	"tilecast/pkg/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 20
	// maxRequestBodyBytes fits a full viewport list with room to spare.
	maxRequestBodyBytes = 256 << 10
)

type LayoutHandler struct {
	sessions  *services.SessionManager
	resolver  *services.LayoutResolver
	health    *monitoring.HealthChecker
	logger    *zap.SugaredLogger
	startTime time.Time
}

func NewLayoutHandler(
	sessions *services.SessionManager,
	resolver *services.LayoutResolver,
	health *monitoring.HealthChecker,
	logger *zap.SugaredLogger,
) *LayoutHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if health == nil {
		health = monitoring.NewHealthChecker()
	}
	return &LayoutHandler{
		sessions:  sessions,
		resolver:  resolver,
		health:    health,
		logger:    logger,
		startTime: time.Now(),
	}
}

func (h *LayoutHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1", limitRequestBody(maxRequestBodyBytes))
	{
		api.POST("/resolve", h.Resolve)

		api.POST("/sessions/:id/enter", h.EnterSession)
		api.POST("/sessions/:id/leave", h.LeaveSession)

		api.GET("/sessions/:id/layout", h.GetLayout)
		api.GET("/sessions/:id/layout/history", h.GetHistory)
		api.PUT("/sessions/:id/layout/preview", h.PreviewLayout)
		api.POST("/sessions/:id/layout", h.CommitLayout)

		api.PUT("/sessions/:id/slots/:slot", h.AssignSlot)
		api.DELETE("/sessions/:id/slots/:slot", h.ClearSlot)

		api.POST("/sessions/:id/editing", h.OpenEditing)
		api.POST("/sessions/:id/editing/save", h.SaveEditing)
		api.DELETE("/sessions/:id/editing", h.CancelEditing)

		api.PUT("/sessions/:id/roster", h.ReplaceRoster)
		api.PUT("/sessions/:id/viewports", h.UpdateViewports)
		api.GET("/sessions/:id/visual", h.GetVisual)
	}
}

type resolveRequest struct {
	Layout    json.RawMessage   `json:"layout"`
	Viewports []domain.Viewport `json:"viewports"`
	WideMode  bool              `json:"wideMode"`
}

type viewportsRequest struct {
	Viewports []domain.Viewport `json:"viewports"`
	WideMode  bool              `json:"wideMode"`
}

type rosterRequest struct {
	Streams []domain.AvailableStream `json:"streams"`
}

type assignRequest struct {
	StreamID     domain.StreamID     `json:"streamId"`
	ConnectionID domain.ConnectionID `json:"connectionId"`
}

// Resolve maps a layout onto a viewport list without touching any session.
func (h *LayoutHandler) Resolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bodyError(err))
		return
	}
	if err := validation.ValidateViewportCount(len(req.Viewports)); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	layout, err := domain.DecodeLayout(req.Layout)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid layout", http.StatusBadRequest))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"layout": h.resolver.Resolve(layout, req.Viewports, req.WideMode),
	})
}

func (h *LayoutHandler) EnterSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	sess, err := h.sessions.Enter(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"layout":    sess.Store.Current(),
		"visual":    sess.Visual(),
	})
}

func (h *LayoutHandler) LeaveSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	released, err := h.sessions.Leave(id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": id,
		"released":  released,
	})
}

func (h *LayoutHandler) GetLayout(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"layout":    sess.Store.Current(),
		"editing":   sess.Editor.IsEditing(),
	})
}

func (h *LayoutHandler) GetHistory(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidInputError("limit must be a number"))
			return
		}
		limit = n
	}
	if err := validation.ValidateHistoryLimit(limit); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}

	records, err := sess.Store.History(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"records":   records,
	})
}

func (h *LayoutHandler) PreviewLayout(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	layout, ok := bindLayout(c)
	if !ok {
		return
	}

	sess.Store.Preview(layout)
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"layout":    sess.Store.Current(),
	})
}

// CommitLayout persists a new layout version. A storage failure still
// applies the layout locally and answers 202 with a warning.
func (h *LayoutHandler) CommitLayout(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	layout, ok := bindLayout(c)
	if !ok {
		return
	}

	record, err := sess.Store.Commit(c.Request.Context(), layout)
	h.respondCommit(c, sess, record, err)
}

func (h *LayoutHandler) AssignSlot(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	slot, ok := slotKey(c)
	if !ok {
		return
	}

	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bodyError(err))
		return
	}
	placement, err := req.placement()
	if err != nil {
		_ = c.Error(err)
		return
	}

	layout, err := sess.Editor.Assign(c.Request.Context(), slot, placement)
	h.respondEdit(c, sess, layout, err)
}

func (h *LayoutHandler) ClearSlot(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	slot, ok := slotKey(c)
	if !ok {
		return
	}

	layout, err := sess.Editor.Clear(c.Request.Context(), slot)
	h.respondEdit(c, sess, layout, err)
}

func (h *LayoutHandler) OpenEditing(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	sess.Editor.OpenEditing()
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"editing":   true,
		"layout":    sess.Store.Current(),
	})
}

func (h *LayoutHandler) SaveEditing(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	record, err := sess.Editor.SaveEditing(c.Request.Context())
	h.respondCommit(c, sess, record, err)
}

func (h *LayoutHandler) CancelEditing(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	if err := sess.Editor.CancelEditing(c.Request.Context()); err != nil {
		// the panel is closed either way; the preview stays until the next refresh
		h.logger.Warnw("failed to reload layout after cancel", "session_id", sess.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"editing":   false,
		"layout":    sess.Store.Current(),
	})
}

func (h *LayoutHandler) ReplaceRoster(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req rosterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bodyError(err))
		return
	}

	sess.Store.Roster().Replace(req.Streams)
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"streams":   len(req.Streams),
	})
}

func (h *LayoutHandler) UpdateViewports(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	var req viewportsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(bodyError(err))
		return
	}
	if err := validation.ValidateViewportCount(len(req.Viewports)); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	sess.Viewports.Update(req.Viewports, req.WideMode)
	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"layout":    sess.Visual(),
	})
}

// GetVisual resolves the session's layout against its last viewport list.
// The wide query parameter overrides the stored wide-mode flag.
func (h *LayoutHandler) GetVisual(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}

	viewports, wide := sess.Viewports.Snapshot()
	if raw := c.Query("wide"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			_ = c.Error(apperrors.NewInvalidInputError("wide must be a boolean"))
			return
		}
		wide = v
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionId": sess.ID,
		"wideMode":  wide,
		"layout":    sess.VisualFor(viewports, wide),
	})
}

func (h *LayoutHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(h.startTime).String(),
		"sessions":  h.sessions.Count(),
	})
}

func (h *LayoutHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := h.health.CheckAll(ctx)
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *LayoutHandler) session(c *gin.Context) (*services.Session, bool) {
	id, ok := sessionID(c)
	if !ok {
		return nil, false
	}
	sess, err := h.sessions.Get(id)
	if err != nil {
		_ = c.Error(err)
		return nil, false
	}
	return sess, true
}

func (h *LayoutHandler) respondCommit(c *gin.Context, sess *services.Session, record *domain.LayoutRecord, err error) {
	if err != nil && !apperrors.IsTransient(err) {
		_ = c.Error(err)
		return
	}

	body := gin.H{
		"sessionId": sess.ID,
		"record":    record,
		"layout":    sess.Store.Current(),
	}
	if err != nil {
		body["warning"] = apperrors.GetAppError(err).Message
		c.JSON(http.StatusAccepted, body)
		return
	}
	c.JSON(http.StatusCreated, body)
}

func (h *LayoutHandler) respondEdit(c *gin.Context, sess *services.Session, layout domain.LogicalLayout, err error) {
	if err != nil && !apperrors.IsTransient(err) {
		_ = c.Error(err)
		return
	}

	body := gin.H{
		"sessionId": sess.ID,
		"layout":    layout,
		"editing":   sess.Editor.IsEditing(),
	}
	if err != nil {
		body["warning"] = apperrors.GetAppError(err).Message
		c.JSON(http.StatusAccepted, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (r assignRequest) placement() (domain.Placement, error) {
	switch {
	case r.StreamID != "" && r.ConnectionID != "":
		return domain.Empty, apperrors.NewInvalidInputError("set either streamId or connectionId, not both")
	case r.StreamID != "":
		if err := validation.ValidateStreamID(string(r.StreamID)); err != nil {
			return domain.Empty, apperrors.NewInvalidInputError(err.Error())
		}
		return domain.ByStream(r.StreamID), nil
	case r.ConnectionID != "":
		if err := validation.ValidateConnectionID(string(r.ConnectionID)); err != nil {
			return domain.Empty, apperrors.NewInvalidInputError(err.Error())
		}
		return domain.ByConnection(r.ConnectionID), nil
	}
	return domain.Empty, nil
}

func sessionID(c *gin.Context) (domain.SessionID, bool) {
	id := c.Param("id")
	if err := validation.ValidateSessionID(id); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("session_id", id))
		return "", false
	}
	return domain.SessionID(id), true
}

func slotKey(c *gin.Context) (domain.SlotKey, bool) {
	slot := domain.SlotKey(c.Param("slot"))
	if !slot.Valid() {
		_ = c.Error(apperrors.WrapError(domain.ErrUnknownSlot, apperrors.ErrCodeInvalidInput, "unknown slot", http.StatusBadRequest).
			WithContext("slot", string(slot)))
		return "", false
	}
	return slot, true
}

func bindLayout(c *gin.Context) (domain.LogicalLayout, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		_ = c.Error(bodyError(err))
		return nil, false
	}
	layout, err := domain.DecodeLayout(body)
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid layout", http.StatusBadRequest))
		return nil, false
	}
	return layout, true
}

func limitRequestBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func bodyError(err error) *apperrors.AppError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "request body too large", http.StatusRequestEntityTooLarge).
			WithContext("limit_bytes", tooLarge.Limit)
	}
	return apperrors.NewInvalidInputError(err.Error())
}
