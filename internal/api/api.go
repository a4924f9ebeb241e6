// Package api serves the canvas REST surface.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/celerix-dev/celerix-board/internal/auth"
	"github.com/celerix-dev/celerix-board/internal/canvas"
	"github.com/celerix-dev/celerix-board/pkg/engine"
	"github.com/celerix-dev/celerix-board/pkg/schema"
)

const principalKey = "principal"

// Authenticator resolves a bearer credential to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (schema.Principal, error)
}

type Handler struct {
	Canvases *canvas.Service
	Auth     Authenticator
}

// Register mounts the canvas routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/canvas", h.RequireAuth)
	{
		g.GET("/", h.List)
		g.POST("/", h.Create)
		g.GET("/:id", h.Load)
		g.PUT("/:id", h.ReplaceElements)
		g.PUT("/updateCanvasProfile/:id", h.Rename)
		g.PUT("/share/:id", h.Share)
		g.DELETE("/:id", h.Delete)
	}
}

// RequireAuth rejects requests without a valid bearer token.
func (h *Handler) RequireAuth(c *gin.Context) {
	p, err := h.Auth.Authenticate(c.Request.Context(), auth.Credential(c.Request))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": engine.ErrUnauthenticated.Message,
			"code":  engine.KindUnauthenticated,
		})
		return
	}
	c.Set(principalKey, p)
	c.Next()
}

// CORS answers preflight requests and allows the configured origins.
// A "*" entry allows any origin.
func CORS(origins []string) gin.HandlerFunc {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func principal(c *gin.Context) schema.Principal {
	p, _ := c.MustGet(principalKey).(schema.Principal)
	return p
}

// writeError maps err through its kind. Body: {"error": message, "code": kind}.
// Messages of untagged errors stay in the log.
func writeError(c *gin.Context, err error) {
	kind := engine.KindOf(err)
	var e *engine.Error
	if kind == engine.KindInternal || !errors.As(err, &e) {
		slog.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": engine.KindInternal})
		return
	}
	c.JSON(kind.HTTPStatus(), gin.H{"error": e.Message, "code": kind})
}

func (h *Handler) List(c *gin.Context) {
	list, err := h.Canvases.List(c.Request.Context(), principal(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) Create(c *gin.Context) {
	var input struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		writeError(c, engine.NewError(engine.KindValidation, "invalid request body: "+err.Error()))
		return
	}

	created, err := h.Canvases.Create(c.Request.Context(), principal(c), input.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Load answers 404 for canvases the caller cannot access so their existence is not revealed.
func (h *Handler) Load(c *gin.Context) {
	loaded, err := h.Canvases.Load(c.Request.Context(), principal(c), c.Param("id"))
	if errors.Is(err, engine.ErrForbidden) {
		err = engine.ErrCanvasNotFound
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loaded)
}

func (h *Handler) ReplaceElements(c *gin.Context) {
	var input struct {
		Elements []schema.Element `json:"elements"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		writeError(c, engine.NewError(engine.KindValidation, "invalid request body: "+err.Error()))
		return
	}

	updated, err := h.Canvases.ReplaceElements(c.Request.Context(), principal(c), c.Param("id"), input.Elements)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) Rename(c *gin.Context) {
	var input struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		writeError(c, engine.NewError(engine.KindValidation, "invalid request body: "+err.Error()))
		return
	}

	updated, err := h.Canvases.Rename(c.Request.Context(), principal(c), c.Param("id"), input.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) Share(c *gin.Context) {
	var input struct {
		SharedEmail string `json:"sharedEmail"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		writeError(c, engine.NewError(engine.KindValidation, "invalid request body: "+err.Error()))
		return
	}

	if _, err := h.Canvases.Share(c.Request.Context(), principal(c), c.Param("id"), input.SharedEmail); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Canvas shared successfully"})
}

func (h *Handler) Delete(c *gin.Context) {
	if err := h.Canvases.Delete(c.Request.Context(), principal(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Canvas deleted successfully"})
}
