// Package api is the HTTP admin surface of a core: it lists the attached UIs,
// pushes core-ui-control commands to them and paints the framebuffer.
package api

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/emuconsole/storage"
	"github.com/luma/emuconsole/transport"
)

// requestTimeout bounds every call into the core loop.
const requestTimeout = 5 * time.Second

// Admin is the part of transport.Server the API drives.
type Admin interface {
	Sessions(ctx context.Context) ([]transport.SessionInfo, error)
	SetWindowScale(ctx context.Context, id string, scale float64, isDPI bool) error
	ChangeDisplayBrightness(ctx context.Context, id string, light string, brightness int) error
}

type Options struct {
	Admin Admin

	// Surface is painted by /framebuffer/fill. The route answers 404 without
	// one.
	Surface *storage.Surface

	DebugHTTP bool

	Log *zap.Logger
}

type windowScaleRequest struct {
	Scale float64 `json:"scale" binding:"required,gt=0"`
	DPI   bool    `json:"dpi"`
}

type brightnessRequest struct {
	Light      string `json:"light" binding:"required"`
	Brightness *int   `json:"brightness" binding:"required,min=0,max=255"`
}

type fillRequest struct {
	X     int    `json:"x" binding:"min=0"`
	Y     int    `json:"y" binding:"min=0"`
	W     int    `json:"w" binding:"required,gt=0"`
	H     int    `json:"h" binding:"required,gt=0"`
	Pixel string `json:"pixel" binding:"required,hexadecimal"`
}

func NewRouter(options Options) *gin.Engine {
	r := setupRouter(options.DebugHTTP, options.Log)
	h := &handlers{admin: options.Admin, surface: options.Surface}

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/sessions", h.sessions)
	r.POST("/sessions/:id/window-scale", h.windowScale)
	r.POST("/sessions/:id/brightness", h.brightness)
	r.POST("/framebuffer/fill", h.fill)

	return r
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

type handlers struct {
	admin   Admin
	surface *storage.Surface
}

func (h *handlers) sessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	sessions, err := h.admin.Sessions(ctx)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *handlers) windowScale(c *gin.Context) {
	var req windowScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.admin.SetWindowScale(ctx, c.Param("id"), req.Scale, req.DPI); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handlers) brightness(c *gin.Context) {
	var req brightnessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.admin.ChangeDisplayBrightness(ctx, c.Param("id"), req.Light, *req.Brightness); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *handlers) fill(c *gin.Context) {
	if h.surface == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no framebuffer"})
		return
	}

	var req fillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pixel, err := hex.DecodeString(req.Pixel)
	if err != nil || len(pixel) != h.surface.BytesPerPixel() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "pixel must be one hex encoded pixel"})
		return
	}

	rect := storage.Rect{X: req.X, Y: req.Y, W: req.W, H: req.H}
	if err := h.surface.Fill(rect, pixel); err != nil {
		abortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, transport.ErrNoSuchSession):
		status = http.StatusNotFound
	case errors.Is(err, transport.ErrNotAttached):
		status = http.StatusConflict
	case errors.Is(err, storage.ErrOutOfBounds):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
