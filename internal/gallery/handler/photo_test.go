package handler_test

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/photogallery/internal/accounts"
	"github.com/jmerrifield20/photogallery/internal/gallery/handler"
	"github.com/jmerrifield20/photogallery/internal/identity"
	"github.com/jmerrifield20/photogallery/internal/photos"
	"go.uber.org/zap"
)

// ── Stub photo service ───────────────────────────────────────────────────

type stubPhotoSvc struct {
	byID      map[uuid.UUID]*photos.Photo
	data      map[uuid.UUID][]byte
	maxBytes  int64
	uploadErr error
	deleteErr error

	lastOwner  *accounts.Account
	lastTitle  string
	lastLimit  int
	lastOffset int
}

func newStubPhotoSvc() *stubPhotoSvc {
	return &stubPhotoSvc{
		byID:     make(map[uuid.UUID]*photos.Photo),
		data:     make(map[uuid.UUID][]byte),
		maxBytes: 1 << 20,
	}
}

func (s *stubPhotoSvc) Upload(_ context.Context, owner *accounts.Account, in photos.UploadInput) (*photos.Photo, error) {
	s.lastOwner = owner
	s.lastTitle = in.Title
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	p := &photos.Photo{ID: uuid.New(), OwnerID: owner.ID, Title: in.Title, ContentType: "image/png", Size: int64(len(body)), CreatedAt: time.Now()}
	s.byID[p.ID] = p
	s.data[p.ID] = body
	return p, nil
}

func (s *stubPhotoSvc) Get(_ context.Context, id uuid.UUID) (*photos.Photo, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, photos.ErrNotFound
	}
	return p, nil
}

func (s *stubPhotoSvc) List(_ context.Context, limit, offset int) ([]*photos.Photo, error) {
	s.lastLimit, s.lastOffset = limit, offset
	var out []*photos.Photo
	for _, p := range s.byID {
		out = append(out, p)
	}
	return out, nil
}

func (s *stubPhotoSvc) ListByOwner(_ context.Context, owner uuid.UUID, limit, offset int) ([]*photos.Photo, error) {
	s.lastLimit, s.lastOffset = limit, offset
	var out []*photos.Photo
	for _, p := range s.byID {
		if p.OwnerID == owner {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPhotoSvc) Open(_ context.Context, id uuid.UUID) (*photos.Photo, io.ReadCloser, error) {
	p, ok := s.byID[id]
	if !ok {
		return nil, nil, photos.ErrNotFound
	}
	return p, io.NopCloser(bytes.NewReader(s.data[id])), nil
}

func (s *stubPhotoSvc) Delete(_ context.Context, _ *accounts.Account, id uuid.UUID) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.byID[id]; !ok {
		return photos.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *stubPhotoSvc) MaxUploadBytes() int64 { return s.maxBytes }

// ── Test setup ────────────────────────────────────────────────────────────

type photoFixture struct {
	router *gin.Engine
	svc    *stubPhotoSvc
	tokens *identity.TokenIssuer
	lookup *stubLookup
}

func setupPhotoRouter(t *testing.T, svc *stubPhotoSvc) *photoFixture {
	t.Helper()
	tokens := testIssuer(t)
	lookup := newStubLookup()
	sessions := identity.NewSessionResolver(tokens, lookup, zap.NewNop())
	h := handler.NewPhotoHandler(svc, sessions, zap.NewNop())

	r := gin.New()
	r.Use(handler.BodyLimit(1<<10, map[string]int64{handler.UploadRoute: h.UploadBodyLimit()}))
	h.Register(r.Group("/api"))
	return &photoFixture{router: r, svc: svc, tokens: tokens, lookup: lookup}
}

func multipartUpload(t *testing.T, title string, file []byte, auth string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatal(err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "photo.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(file)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/photos", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	return req
}

// ── Tests ─────────────────────────────────────────────────────────────────

func TestUpload_201(t *testing.T) {
	f := setupPhotoRouter(t, newStubPhotoSvc())
	owner := &accounts.Account{Email: "p@x.com", Role: accounts.RolePhotographer}
	auth := signIn(t, f.tokens, f.lookup, owner)

	// Larger than the global 1 KiB cap; the upload route has its own.
	file := bytes.Repeat([]byte{0x89}, 4<<10)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, multipartUpload(t, "Sunset", file, auth))
	wantStatus(t, w, http.StatusCreated)

	if f.svc.lastOwner == nil || f.svc.lastOwner.ID != owner.ID {
		t.Errorf("expected upload as the signed-in account, got %+v", f.svc.lastOwner)
	}
	if f.svc.lastTitle != "Sunset" {
		t.Errorf("expected title, got %q", f.svc.lastTitle)
	}
}

func TestUpload_rejections(t *testing.T) {
	cases := []struct {
		name string
		err  error
		auth bool
		file []byte
		want int
	}{
		{"anonymous", nil, false, []byte("x"), http.StatusUnauthorized},
		{"missing file", nil, true, nil, http.StatusBadRequest},
		{"plain user", photos.ErrUploadNotAllowed, true, []byte("x"), http.StatusForbidden},
		{"not an image", photos.ErrUnsupportedType, true, []byte("x"), http.StatusUnsupportedMediaType},
		{"over the service cap", photos.ErrTooLarge, true, []byte("x"), http.StatusRequestEntityTooLarge},
		{"missing title", photos.ErrMissingTitle, true, []byte("x"), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newStubPhotoSvc()
			svc.uploadErr = tc.err
			f := setupPhotoRouter(t, svc)
			auth := ""
			if tc.auth {
				auth = signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "u@x.com", Role: accounts.RoleUser})
			}
			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, multipartUpload(t, "t", tc.file, auth))
			wantStatus(t, w, tc.want)
		})
	}
}

func TestUpload_bodyOverRouteCap(t *testing.T) {
	svc := newStubPhotoSvc()
	svc.maxBytes = 1 << 10
	f := setupPhotoRouter(t, svc)
	auth := signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "p@x.com", Role: accounts.RolePhotographer})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, multipartUpload(t, "big", bytes.Repeat([]byte{1}, 3<<20), auth))
	wantStatus(t, w, http.StatusRequestEntityTooLarge)
}

func TestListGetFileDelete(t *testing.T) {
	svc := newStubPhotoSvc()
	f := setupPhotoRouter(t, svc)
	owner := &accounts.Account{Email: "p@x.com", Role: accounts.RolePhotographer}
	auth := signIn(t, f.tokens, f.lookup, owner)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, multipartUpload(t, "one", []byte("png-bytes"), auth))
	wantStatus(t, w, http.StatusCreated)
	var id uuid.UUID
	for k := range svc.byID {
		id = k
	}

	w = doJSON(f.router, http.MethodGet, "/api/photos?limit=5&offset=2", "", "")
	wantStatus(t, w, http.StatusOK)
	if list, _ := decode(t, w)["photos"].([]any); len(list) != 1 {
		t.Errorf("expected one photo, got %s", w.Body.String())
	}
	if svc.lastLimit != 5 || svc.lastOffset != 2 {
		t.Errorf("expected pagination 5/2, got %d/%d", svc.lastLimit, svc.lastOffset)
	}

	w = doJSON(f.router, http.MethodGet, "/api/photos?limit=-1", "", "")
	wantStatus(t, w, http.StatusBadRequest)

	w = doJSON(f.router, http.MethodGet, "/api/users/"+owner.ID.String()+"/photos", "", "")
	wantStatus(t, w, http.StatusOK)
	if list, _ := decode(t, w)["photos"].([]any); len(list) != 1 {
		t.Errorf("expected one owner photo, got %s", w.Body.String())
	}

	w = doJSON(f.router, http.MethodGet, "/api/users/"+uuid.NewString()+"/photos", "", "")
	wantStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), `"photos":[]`) {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}

	w = doJSON(f.router, http.MethodGet, "/api/photos/"+id.String(), "", "")
	wantStatus(t, w, http.StatusOK)

	w = doJSON(f.router, http.MethodGet, "/api/photos/"+id.String()+"/file", "", "")
	wantStatus(t, w, http.StatusOK)
	if w.Body.String() != "png-bytes" || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("unexpected file response %q (%s)", w.Body.String(), w.Header().Get("Content-Type"))
	}

	w = doJSON(f.router, http.MethodGet, "/api/photos/not-a-uuid", "", "")
	wantStatus(t, w, http.StatusBadRequest)

	w = doJSON(f.router, http.MethodDelete, "/api/photos/"+id.String(), "", "")
	wantStatus(t, w, http.StatusUnauthorized)

	w = doJSON(f.router, http.MethodDelete, "/api/photos/"+id.String(), "", auth)
	wantStatus(t, w, http.StatusNoContent)

	w = doJSON(f.router, http.MethodGet, "/api/photos/"+id.String(), "", "")
	wantStatus(t, w, http.StatusNotFound)
}

func TestDelete_forbidden(t *testing.T) {
	svc := newStubPhotoSvc()
	svc.deleteErr = photos.ErrForbidden
	f := setupPhotoRouter(t, svc)
	auth := signIn(t, f.tokens, f.lookup, &accounts.Account{Email: "other@x.com", Role: accounts.RolePhotographer})

	w := doJSON(f.router, http.MethodDelete, "/api/photos/"+uuid.NewString(), "", auth)
	wantStatus(t, w, http.StatusForbidden)
}
