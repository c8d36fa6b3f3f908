package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/shellfs/pkg/service"
)

// BrowserHandler exposes directory-browsing sessions. Progress is pushed to
// clients over the events WebSocket as browser.* events.
type BrowserHandler struct {
	browsers *service.BrowserService
	logger   *slog.Logger
}

func NewBrowserHandler(browsers *service.BrowserService, logger *slog.Logger) *BrowserHandler {
	return &BrowserHandler{browsers: browsers, logger: logger}
}

// RegisterRoutes registers browser routes
func (h *BrowserHandler) RegisterRoutes(r *gin.RouterGroup) {
	browser := r.Group("/browser")
	{
		browser.POST("/sessions", h.Open)
		browser.GET("/sessions", h.List)
		browser.GET("/sessions/:id", h.Get)
		browser.DELETE("/sessions/:id", h.Close)
		browser.POST("/sessions/:id/navigate", h.Navigate)
		browser.POST("/sessions/:id/back", h.Back)
		browser.POST("/sessions/:id/up", h.Up)
		browser.POST("/sessions/:id/invalidate", h.Invalidate)
		browser.POST("/sessions/:id/cancel", h.Cancel)
	}
}

func (h *BrowserHandler) Open(c *gin.Context) {
	var opts service.OpenOptions
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	view, err := h.browsers.Open(opts)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, view)
}

func (h *BrowserHandler) List(c *gin.Context) {
	ok(c, h.browsers.List())
}

func (h *BrowserHandler) Get(c *gin.Context) {
	view, err := h.browsers.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, view)
}

func (h *BrowserHandler) Close(c *gin.Context) {
	if err := h.browsers.CloseSession(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

type navigateRequest struct {
	Path string `json:"path" binding:"required"`
	// Record defaults to true; pass false to skip the history stack.
	Record *bool `json:"record"`
}

func (h *BrowserHandler) Navigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	record := req.Record == nil || *req.Record
	moved, err := h.browsers.Navigate(c.Param("id"), req.Path, record)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"moved": moved})
}

func (h *BrowserHandler) Back(c *gin.Context) {
	moved, err := h.browsers.Back(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"moved": moved})
}

func (h *BrowserHandler) Up(c *gin.Context) {
	moved, err := h.browsers.Up(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"moved": moved})
}

func (h *BrowserHandler) Invalidate(c *gin.Context) {
	if err := h.browsers.Invalidate(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *BrowserHandler) Cancel(c *gin.Context) {
	cancelled, err := h.browsers.Cancel(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"cancelled": cancelled})
}
