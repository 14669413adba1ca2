package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/indelible/internal/canvases"
	"github.com/MarcoPoloResearchLab/indelible/internal/cloudsync"
	"github.com/MarcoPoloResearchLab/indelible/internal/drawing"
	"github.com/MarcoPoloResearchLab/indelible/internal/syncbridge"
	"github.com/MarcoPoloResearchLab/indelible/internal/toolstate"
	"github.com/MarcoPoloResearchLab/indelible/internal/workspace"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultHeartbeatInterval = 25 * time.Second

var (
	errMissingWorkspace = errors.New("workspace dependency required")
	errMissingBridge    = errors.New("sync bridge dependency required")
	errMissingRealtime  = errors.New("realtime dispatcher dependency required")
)

// Syncer runs one replication round on demand.
type Syncer interface {
	Sync(ctx context.Context) (cloudsync.Report, error)
}

type Dependencies struct {
	Workspace *workspace.Workspace
	Bridge    *syncbridge.Bridge
	// Syncer is optional; without it POST /sync/run answers 503.
	Syncer   Syncer
	Realtime *RealtimeDispatcher
	Logger   *zap.Logger
	// Context bounds background work started by handlers, such as login.
	Context           context.Context
	HeartbeatInterval time.Duration
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Workspace == nil {
		return nil, errMissingWorkspace
	}
	if deps.Bridge == nil {
		return nil, errMissingBridge
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseContext := deps.Context
	if baseContext == nil {
		baseContext = context.Background()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		workspace: deps.Workspace,
		bridge:    deps.Bridge,
		syncer:    deps.Syncer,
		realtime:  deps.Realtime,
		logger:    logger,
		context:   baseContext,
		heartbeat: heartbeat,
	}

	router.GET("/canvases", handler.handleListCanvases)
	router.POST("/canvases", handler.handleCreateCanvas)
	router.POST("/canvases/:slug/open", handler.handleOpenCanvas)
	router.DELETE("/canvases/:id", handler.handleDeleteCanvas)
	router.GET("/canvas", handler.handleCurrentCanvas)

	router.GET("/tools", handler.handleTools)
	router.POST("/tools", handler.handleSetTool)
	router.POST("/pointer/:phase", handler.handlePointer)
	router.POST("/text", handler.handleSubmitText)
	router.DELETE("/text", handler.handleCancelText)
	router.POST("/images", handler.handleStartImage)
	router.POST("/images/size", handler.handleImageSize)
	router.POST("/images/place", handler.handlePlaceImage)
	router.DELETE("/images", handler.handleCancelImage)
	router.POST("/escape", handler.handleEscape)

	router.GET("/sync", handler.handleSyncStatus)
	router.POST("/sync/login", handler.handleLogin)
	router.POST("/sync/logout", handler.handleLogout)
	router.POST("/sync/interaction", handler.handleSubmitInteraction)
	router.DELETE("/sync/interaction", handler.handleCancelInteraction)
	router.POST("/sync/run", handler.handleSyncRun)

	router.GET("/events", handler.handleEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	workspace *workspace.Workspace
	bridge    *syncbridge.Bridge
	syncer    Syncer
	realtime  *RealtimeDispatcher
	logger    *zap.Logger
	context   context.Context
	heartbeat time.Duration
}

type elementPayload struct {
	Type    canvases.ElementKind `json:"type"`
	Element canvases.Element     `json:"element"`
}

type canvasViewPayload struct {
	Canvas   *canvases.Canvas `json:"canvas"`
	Elements []elementPayload `json:"elements"`
}

func renderView(view workspace.CanvasView) canvasViewPayload {
	payload := canvasViewPayload{Canvas: view.Canvas, Elements: make([]elementPayload, 0, len(view.Elements))}
	for _, element := range view.Elements {
		payload.Elements = append(payload.Elements, elementPayload{Type: element.Kind(), Element: element})
	}
	return payload
}

func (h *httpHandler) handleListCanvases(c *gin.Context) {
	listed, ok := h.workspace.Canvases(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		return
	}
	current := ""
	if view := h.workspace.Current(); view.Canvas != nil {
		current = view.Canvas.ID
	}
	c.JSON(http.StatusOK, gin.H{"canvases": listed, "current": current})
}

type createCanvasRequest struct {
	Slug string `json:"slug"`
}

func (h *httpHandler) handleCreateCanvas(c *gin.Context) {
	var request createCanvasRequest
	if err := c.ShouldBindJSON(&request); err != nil || !canvases.IsValidSlug(strings.TrimSpace(request.Slug)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug"})
		return
	}
	if err := h.workspace.CreateCanvas(c.Request.Context(), strings.TrimSpace(request.Slug)); err != nil {
		switch {
		case errors.Is(err, canvases.ErrInvalidSlug):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_slug"})
		case errors.Is(err, canvases.ErrSlugTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "canvas_not_created"})
		default:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable"})
		}
		return
	}
	c.JSON(http.StatusCreated, renderView(h.workspace.Current()))
}

func (h *httpHandler) handleOpenCanvas(c *gin.Context) {
	if !h.workspace.OpenCanvas(c.Request.Context(), c.Param("slug")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "canvas_not_found"})
		return
	}
	c.JSON(http.StatusOK, renderView(h.workspace.Current()))
}

func (h *httpHandler) handleDeleteCanvas(c *gin.Context) {
	if !h.workspace.DeleteCanvas(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "canvas_not_deleted"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCurrentCanvas(c *gin.Context) {
	c.JSON(http.StatusOK, renderView(h.workspace.Current()))
}

func (h *httpHandler) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, h.workspace.Tools())
}

type setToolRequest struct {
	Tool string `json:"tool"`
}

func (h *httpHandler) handleSetTool(c *gin.Context) {
	var request setToolRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	tool, ok := toolstate.ParseTool(request.Tool)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_tool"})
		return
	}
	c.JSON(http.StatusOK, h.workspace.SetTool(tool))
}

type pointerRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (h *httpHandler) handlePointer(c *gin.Context) {
	var request pointerRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	at := drawing.Point{X: request.X, Y: request.Y}
	switch c.Param("phase") {
	case "down":
		c.JSON(http.StatusOK, h.workspace.PointerDown(at))
	case "move":
		c.JSON(http.StatusOK, h.workspace.PointerMove(at))
	case "up":
		c.JSON(http.StatusOK, h.workspace.PointerUp(c.Request.Context(), at))
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_phase"})
	}
}

type textRequest struct {
	Content string `json:"content"`
}

func (h *httpHandler) handleSubmitText(c *gin.Context) {
	var request textRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	c.JSON(http.StatusOK, h.workspace.SubmitText(c.Request.Context(), request.Content))
}

func (h *httpHandler) handleCancelText(c *gin.Context) {
	c.JSON(http.StatusOK, h.workspace.CancelText())
}

type imageRequest struct {
	Data   string  `json:"data"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (h *httpHandler) handleStartImage(c *gin.Context) {
	var request imageRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Data) == "" || request.Width <= 0 || request.Height <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_image"})
		return
	}
	c.JSON(http.StatusOK, h.workspace.StartImage(request.Data, request.Width, request.Height))
}

type imageSizeRequest struct {
	Size string `json:"size"`
}

func (h *httpHandler) handleImageSize(c *gin.Context) {
	var request imageSizeRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	size, ok := toolstate.ParseImageSize(request.Size)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_size"})
		return
	}
	c.JSON(http.StatusOK, h.workspace.SelectImageSize(size))
}

func (h *httpHandler) handlePlaceImage(c *gin.Context) {
	c.JSON(http.StatusOK, h.workspace.PlaceImage(c.Request.Context()))
}

func (h *httpHandler) handleCancelImage(c *gin.Context) {
	c.JSON(http.StatusOK, h.workspace.CancelImage())
}

func (h *httpHandler) handleEscape(c *gin.Context) {
	c.JSON(http.StatusOK, h.workspace.Escape())
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.bridge.Snapshot())
}

// handleLogin starts the login flow in the background. Its prompts surface
// through GET /sync and the event stream.
func (h *httpHandler) handleLogin(c *gin.Context) {
	if !h.bridge.Snapshot().Configured {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync_not_configured"})
		return
	}
	go func() {
		if err := h.bridge.Login(h.context); err != nil {
			h.logger.Debug("background login ended", zap.Error(err))
		}
	}()
	c.JSON(http.StatusAccepted, h.bridge.Snapshot())
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.bridge.Logout(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "logout_failed"})
		return
	}
	c.JSON(http.StatusOK, h.bridge.Snapshot())
}

type interactionRequest struct {
	Values map[string]string `json:"values"`
}

func (h *httpHandler) handleSubmitInteraction(c *gin.Context) {
	var request interactionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.bridge.SubmitInteraction(request.Values) {
		c.JSON(http.StatusConflict, gin.H{"error": "no_pending_interaction"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCancelInteraction(c *gin.Context) {
	if !h.bridge.CancelInteraction() {
		c.JSON(http.StatusConflict, gin.H{"error": "no_pending_interaction"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSyncRun(c *gin.Context) {
	if h.syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync_not_configured"})
		return
	}
	report, err := h.syncer.Sync(c.Request.Context())
	if err != nil {
		h.logger.Warn("manual sync failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "sync_failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message := <-stream:
			c.SSEvent(message.EventType, message.Payload)
			return true
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": time.Now().UTC()})
			return true
		}
	})
}
