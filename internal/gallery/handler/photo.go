package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/identity"
	"github.com/jmerrifield20/photogallery/internal/photos"
	"go.uber.org/zap"
)

// multipartOverhead is the allowance for form fields and boundaries on top
// of the file size cap.
const multipartOverhead = 1 << 20

// UploadRoute is the route pattern of the upload endpoint, used to give it
// its own body cap.
const UploadRoute = "/api/photos"

// photoSvc is the interface expected by PhotoHandler, satisfied by *photos.Service.
type photoSvc interface {
	Upload(ctx context.Context, owner *accounts.Account, in photos.UploadInput) (*photos.Photo, error)
	Get(ctx context.Context, id uuid.UUID) (*photos.Photo, error)
	List(ctx context.Context, limit, offset int) ([]*photos.Photo, error)
	ListByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*photos.Photo, error)
	Open(ctx context.Context, id uuid.UUID) (*photos.Photo, io.ReadCloser, error)
	Delete(ctx context.Context, actor *accounts.Account, id uuid.UUID) error
	MaxUploadBytes() int64
}

// PhotoHandler handles photo routes.
type PhotoHandler struct {
	photos   photoSvc
	sessions *identity.SessionResolver
	logger   *zap.Logger
}

// NewPhotoHandler creates a PhotoHandler.
func NewPhotoHandler(svc photoSvc, sessions *identity.SessionResolver, logger *zap.Logger) *PhotoHandler {
	return &PhotoHandler{photos: svc, sessions: sessions, logger: logger}
}

// UploadBodyLimit is the request body cap for the upload route.
func (h *PhotoHandler) UploadBodyLimit() int64 {
	return h.photos.MaxUploadBytes() + multipartOverhead
}

// Register mounts the photo routes on rg.
func (h *PhotoHandler) Register(rg *gin.RouterGroup) {
	requireAccount := h.sessions.RequireAccount()

	rg.GET("/photos", h.List)
	rg.POST("/photos", requireAccount, h.Upload)
	rg.GET("/photos/:id", h.Get)
	rg.GET("/photos/:id/file", h.File)
	rg.DELETE("/photos/:id", requireAccount, h.Delete)
	rg.GET("/users/:id/photos", h.ListByOwner)
}

// Upload handles POST /photos (multipart: file, title, description).
func (h *PhotoHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			recordUpload(err)
			respondError(c, h.logger, "upload photo", err)
			return
		}
		badRequest(c, "multipart field \"file\" is required")
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, h.logger, "open uploaded file", err)
		return
	}
	defer f.Close()

	p, err := h.photos.Upload(c.Request.Context(), identity.AccountFromCtx(c), photos.UploadInput{
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Body:        f,
	})
	recordUpload(err)
	if err != nil {
		respondError(c, h.logger, "upload photo", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"photo": p})
}

// List handles GET /photos?limit&offset.
func (h *PhotoHandler) List(c *gin.Context) {
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	list, err := h.photos.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, h.logger, "list photos", err)
		return
	}
	respondPage(c, list, limit, offset)
}

// ListByOwner handles GET /users/:id/photos.
func (h *PhotoHandler) ListByOwner(c *gin.Context) {
	owner, ok := pathID(c)
	if !ok {
		return
	}
	limit, offset, ok := pagination(c)
	if !ok {
		return
	}
	list, err := h.photos.ListByOwner(c.Request.Context(), owner, limit, offset)
	if err != nil {
		respondError(c, h.logger, "list owner photos", err)
		return
	}
	respondPage(c, list, limit, offset)
}

// Get handles GET /photos/:id.
func (h *PhotoHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.photos.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "get photo", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"photo": p})
}

// File handles GET /photos/:id/file and streams the image bytes.
func (h *PhotoHandler) File(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, rc, err := h.photos.Open(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "open photo", err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, p.Size, p.ContentType, rc, map[string]string{
		"Cache-Control": "public, max-age=86400, immutable",
	})
}

// Delete handles DELETE /photos/:id.
func (h *PhotoHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.photos.Delete(c.Request.Context(), identity.AccountFromCtx(c), id); err != nil {
		respondError(c, h.logger, "delete photo", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int, ok bool) {
	parse := func(name string) (int, bool) {
		raw := c.Query(name)
		if raw == "" {
			return 0, true
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, name+" must be a non-negative integer")
			return 0, false
		}
		return n, true
	}
	if limit, ok = parse("limit"); !ok {
		return 0, 0, false
	}
	if offset, ok = parse("offset"); !ok {
		return 0, 0, false
	}
	return limit, offset, true
}

func respondPage(c *gin.Context, list []*photos.Photo, limit, offset int) {
	if list == nil {
		list = []*photos.Photo{}
	}
	c.JSON(http.StatusOK, gin.H{"photos": list, "limit": limit, "offset": offset})
}
