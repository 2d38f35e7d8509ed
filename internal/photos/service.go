package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"go.uber.org/zap"
)

// DefaultMaxUploadBytes caps a single photo upload.
const DefaultMaxUploadBytes = 20 << 20

// allowedTypes maps sniffed content types to the extension used in keys.
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Service manages photo metadata and bytes.
type Service struct {
	repo     Repository
	storage  Storage
	maxBytes int64
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a Service.
func NewService(repo Repository, storage Storage, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		storage:  storage,
		maxBytes: DefaultMaxUploadBytes,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// SetMaxUploadBytes overrides the upload size cap.
func (s *Service) SetMaxUploadBytes(n int64) {
	if n > 0 {
		s.maxBytes = n
	}
}

// MaxUploadBytes returns the upload size cap.
func (s *Service) MaxUploadBytes() int64 { return s.maxBytes }

// UploadInput is one photo upload.
type UploadInput struct {
	Title       string
	Description string
	Body        io.Reader
}

// Upload stores the bytes and then the metadata. If the metadata write fails
// the stored object is removed again.
func (s *Service) Upload(ctx context.Context, owner *accounts.Account, in UploadInput) (*Photo, error) {
	if owner == nil || !owner.Role.CanUpload() {
		return nil, ErrUploadNotAllowed
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrMissingTitle
	}

	data, err := io.ReadAll(io.LimitReader(in.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	contentType := http.DetectContentType(data)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	p := &Photo{
		ID:          uuid.New(),
		OwnerID:     owner.ID,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   s.now(),
	}
	p.StorageKey = fmt.Sprintf("%s/%s%s", owner.ID, p.ID, ext)

	if err := s.storage.Put(ctx, p.StorageKey, bytes.NewReader(data), p.Size, contentType); err != nil {
		return nil, fmt.Errorf("store photo: %w", err)
	}
	if err := s.repo.Insert(ctx, p); err != nil {
		if delErr := s.storage.Delete(ctx, p.StorageKey); delErr != nil {
			s.logger.Warn("remove orphaned photo object",
				zap.String("key", p.StorageKey),
				zap.Error(delErr),
			)
		}
		return nil, err
	}

	s.logger.Info("photo uploaded",
		zap.String("photo_id", p.ID.String()),
		zap.String("owner_id", owner.ID.String()),
		zap.Int64("size", p.Size),
	)
	return p, nil
}

// Get returns photo metadata.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Photo, error) {
	return s.repo.FindByID(ctx, id)
}

// List pages through all photos, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Photo, error) {
	return s.repo.List(ctx, ListFilter{Limit: limit, Offset: offset})
}

// ListByOwner pages through one account's photos.
func (s *Service) ListByOwner(ctx context.Context, owner uuid.UUID, limit, offset int) ([]*Photo, error) {
	return s.repo.List(ctx, ListFilter{OwnerID: &owner, Limit: limit, Offset: offset})
}

// Open returns the metadata and a reader over the photo bytes. The caller
// closes the reader.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*Photo, io.ReadCloser, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.storage.Open(ctx, p.StorageKey)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			s.logger.Error("photo object missing", zap.String("photo_id", p.ID.String()), zap.String("key", p.StorageKey))
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("open photo: %w", err)
	}
	return p, rc, nil
}

// Delete removes a photo. Only its owner or an admin may do so.
func (s *Service) Delete(ctx context.Context, actor *accounts.Account, id uuid.UUID) error {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if actor == nil || (actor.ID != p.OwnerID && actor.Role != accounts.RoleAdmin) {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, p.StorageKey); err != nil {
		s.logger.Warn("delete photo object",
			zap.String("photo_id", p.ID.String()),
			zap.String("key", p.StorageKey),
			zap.Error(err),
		)
	}
	s.logger.Info("photo deleted",
		zap.String("photo_id", p.ID.String()),
		zap.String("actor_id", actor.ID.String()),
	)
	return nil
}
