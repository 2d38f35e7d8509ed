package photos

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("photo not found")
	ErrForbidden        = errors.New("not allowed to modify this photo")
	ErrUploadNotAllowed = errors.New("only photographers and admins can upload photos")
	ErrTooLarge         = errors.New("photo exceeds the upload size limit")
	ErrUnsupportedType  = errors.New("file is not a supported image type")
	ErrMissingTitle     = errors.New("title is required")
	ErrEmptyFile        = errors.New("file is empty")
	ErrObjectNotFound   = errors.New("stored object not found")
)

// Photo is the metadata record of one uploaded image. The bytes live in a
// Storage under StorageKey.
type Photo struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"ownerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListFilter pages through photos, optionally for a single owner.
type ListFilter struct {
	OwnerID *uuid.UUID
	Limit   int
	Offset  int
}

const (
	DefaultPageSize = 24
	MaxPageSize     = 100
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
