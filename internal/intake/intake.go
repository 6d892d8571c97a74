package intake

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"label-decoder/internal/records"
	"label-decoder/internal/shared/storage/object"
	"label-decoder/internal/shared/util"
)

// DefaultMaxBytes is the upload ceiling when none is configured.
const DefaultMaxBytes int64 = 10 << 20

var allowedExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "webp": {},
}

// canonicalExtension is the extension used in generated filenames.
var canonicalExtension = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/webp": "webp",
}

// Upload is a submitted image as received from the caller.
type Upload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Checked is an upload that passed validation.
type Checked struct {
	OriginalFilename string
	MimeType         string
	Extension        string
	Width            int
	Height           int
	Size             int64
}

// Service validates uploads and writes accepted images to the object store.
type Service struct {
	Store    object.ObjectStore
	MaxBytes int64
	Now      func() time.Time
	NewID    func() uuid.UUID
}

// New constructs a Service with the given store and byte ceiling.
func New(store object.ObjectStore, maxBytes int64) *Service {
	return &Service{Store: store, MaxBytes: maxBytes}
}

// Validate checks size, extension, sniffed content type and that the image
// header decodes. It does not touch storage.
func (s *Service) Validate(u Upload) (Checked, error) {
	if len(u.Data) == 0 {
		return Checked{}, fmt.Errorf("%w: empty upload", ErrInvalidFormat)
	}
	limit := s.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if int64(len(u.Data)) > limit {
		return Checked{}, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(u.Data), limit)
	}

	ext := declaredExtension(u.FileName, u.ContentType)
	if _, ok := allowedExtensions[ext]; !ok {
		return Checked{}, fmt.Errorf("%w: extension %q not accepted", ErrInvalidFormat, ext)
	}

	detected := mimetype.Detect(u.Data)
	mimeType := baseType(detected.String())
	canonical, ok := canonicalExtension[mimeType]
	if !ok {
		return Checked{}, fmt.Errorf("%w: content type %s not accepted", ErrInvalidFormat, mimeType)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(u.Data))
	if err != nil {
		return Checked{}, fmt.Errorf("%w: decode %s header: %v", ErrInvalidFormat, mimeType, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Checked{}, fmt.Errorf("%w: %s reports %dx%d", ErrInvalidFormat, format, cfg.Width, cfg.Height)
	}

	name, err := util.SanitizeFileName(filepath.Base(u.FileName))
	if err != nil {
		name = "upload." + canonical
	}
	return Checked{
		OriginalFilename: name,
		MimeType:         mimeType,
		Extension:        canonical,
		Width:            cfg.Width,
		Height:           cfg.Height,
		Size:             int64(len(u.Data)),
	}, nil
}

// Accept validates u, stores the bytes under a generated collision-free name
// and returns the PENDING image handle. Nothing is stored when validation fails.
func (s *Service) Accept(ctx context.Context, u Upload) (records.StoredImage, error) {
	checked, err := s.Validate(u)
	if err != nil {
		return records.StoredImage{}, err
	}

	id := s.newID()
	now := s.now().UTC()
	filename := GeneratedFilename(now, id, checked.Extension)
	key := StorageKey(now, filename)

	written, err := s.Store.Put(ctx, key, checked.MimeType, bytes.NewReader(u.Data))
	if err != nil {
		return records.StoredImage{}, fmt.Errorf("store image %s: %w", key, err)
	}

	return records.StoredImage{
		ID:                id,
		GeneratedFilename: filename,
		OriginalFilename:  checked.OriginalFilename,
		StorageProvider:   s.Store.Provider(),
		StoragePath:       key,
		MimeType:          checked.MimeType,
		Width:             checked.Width,
		Height:            checked.Height,
		SizeBytes:         written,
		Status:            records.StatusPending,
		CreatedAt:         now,
	}, nil
}

// GeneratedFilename returns label_YYYYMMDD_HHMMSS_<id>.<ext>.
func GeneratedFilename(ts time.Time, id uuid.UUID, ext string) string {
	return fmt.Sprintf("label_%s_%s.%s", ts.UTC().Format("20060102_150405"), id.String(), ext)
}

// StorageKey places a generated filename under a YYYY/MM/DD prefix.
func StorageKey(ts time.Time, filename string) string {
	return ts.UTC().Format("2006/01/02") + "/" + filename
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() uuid.UUID {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.New()
}

// declaredExtension prefers the filename extension and falls back to the
// declared content type.
func declaredExtension(fileName, contentType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(fileName))), "."); ext != "" {
		return ext
	}
	if ext, ok := canonicalExtension[baseType(strings.ToLower(contentType))]; ok {
		return ext
	}
	return ""
}

func baseType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
