package handler

import (
	"log/slog"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/choraleia/shellfs/pkg/service"
	"github.com/choraleia/shellfs/pkg/service/fs"
)

type FSHandler struct {
	svc    *service.FSService
	logger *slog.Logger
}

func NewFSHandler(svc *service.FSService, logger *slog.Logger) *FSHandler {
	return &FSHandler{svc: svc, logger: logger}
}

// backend reads the optional backend query parameter.
func backend(c *gin.Context) (fs.Backend, bool) {
	b, err := service.ValidateBackendForHTTP(c.Query("backend"))
	if err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return b, true
}

// requiredQuery returns the named query values, failing the request when any
// is blank.
func requiredQuery(c *gin.Context, names ...string) ([]string, bool) {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = c.Query(n)
		if strings.TrimSpace(out[i]) == "" {
			badRequest(c, strings.Join(names, " and ")+" required")
			return nil, false
		}
	}
	return out, true
}

func isTrue(v string) bool { return strings.EqualFold(v, "true") || v == "1" }

func (h *FSHandler) List(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "path")
	if !okQ {
		return
	}
	resp, err := h.svc.ListDir(c.Request.Context(), b, q[0], fs.ListOptions{IncludeHidden: isTrue(c.Query("include_hidden"))})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, resp)
}

func (h *FSHandler) Stat(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "path")
	if !okQ {
		return
	}
	entry, err := h.svc.Stat(c.Request.Context(), b, q[0])
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

func (h *FSHandler) FSType(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "path")
	if !okQ {
		return
	}
	typ, err := h.svc.FSType(c.Request.Context(), b, q[0])
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"path": q[0], "type": typ})
}

func (h *FSHandler) Mkdir(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "path")
	if !okQ {
		return
	}
	entry, err := h.svc.Mkdir(c.Request.Context(), b, q[0], isTrue(c.Query("parents")))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

func (h *FSHandler) Touch(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "path")
	if !okQ {
		return
	}
	entry, err := h.svc.CreateFile(c.Request.Context(), b, q[0])
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}

func (h *FSHandler) Remove(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "path")
	if !okQ {
		return
	}
	if err := h.svc.Remove(c.Request.Context(), b, q[0]); err != nil {
		fail(c, err)
		return
	}
	h.logger.Info("Removed", "path", q[0], "backend", b)
	ok(c, nil)
}

func (h *FSHandler) Move(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "from", "to")
	if !okQ {
		return
	}
	if err := h.svc.Move(c.Request.Context(), b, q[0], q[1]); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *FSHandler) Copy(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "from", "to")
	if !okQ {
		return
	}
	if err := h.svc.Copy(c.Request.Context(), b, q[0], q[1]); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *FSHandler) Chmod(c *gin.Context) {
	b, okB := backend(c)
	if !okB {
		return
	}
	q, okQ := requiredQuery(c, "path", "mode")
	if !okQ {
		return
	}
	entry, err := h.svc.Chmod(c.Request.Context(), b, q[0], q[1])
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, entry)
}
