package media

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fathima-sithara/chat-app/internal/apperrors"
	"github.com/fathima-sithara/chat-app/internal/models"
	"go.uber.org/zap"
)

var allowedTypes = map[string]models.MediaKind{
	"image/png":       models.MediaImage,
	"image/jpeg":      models.MediaImage,
	"image/jpg":       models.MediaImage,
	"image/webp":      models.MediaImage,
	"image/gif":       models.MediaImage,
	"video/mp4":       models.MediaVideo,
	"video/webm":      models.MediaVideo,
	"audio/mpeg":      models.MediaAudio,
	"audio/ogg":       models.MediaAudio,
	"audio/wav":       models.MediaAudio,
	"audio/webm":      models.MediaAudio,
	"application/pdf": models.MediaFile,
}

var (
	ErrEmptyFile       = apperrors.Validation("file is empty")
	ErrFileTooLarge    = apperrors.Validation("file is too large")
	ErrUnsupportedType = apperrors.Validation("file type not allowed")
)

// Storage persists an object and returns the URL clients use to fetch it.
type Storage interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Classify maps a content type to a media kind. Parameters such as charset
// are ignored.
func Classify(contentType string) (models.MediaKind, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(contentType))
	}
	k, ok := allowedTypes[mt]
	return k, ok
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeName strips directories and anything outside [A-Za-z0-9._-].
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}

type Upload struct {
	Key          string           `json:"key"`
	URL          string           `json:"url"`
	ThumbnailURL string           `json:"thumbnail_url,omitempty"`
	Kind         models.MediaKind `json:"media_kind"`
	ContentType  string           `json:"content_type"`
	Size         int64            `json:"size"`
}

type Options struct {
	MaxBytes       int64
	ThumbnailWidth int
}

type Service struct {
	store      Storage
	maxBytes   int64
	thumbWidth int
	log        *zap.Logger
	now        func() time.Time
}

func NewService(store Storage, opts Options, log *zap.Logger) *Service {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 20 << 20
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 320
	}
	return &Service{store: store, maxBytes: opts.MaxBytes, thumbWidth: opts.ThumbnailWidth, log: log, now: time.Now}
}

func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Upload validates and stores one file under userID/<unix-ms>_<name>.
// Images also get a JPEG thumbnail; a thumbnail failure is not an error.
func (s *Service) Upload(ctx context.Context, userID, filename, contentType string, data []byte) (*Upload, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	kind, ok := Classify(contentType)
	if !ok {
		return nil, ErrUnsupportedType
	}

	key := fmt.Sprintf("%s/%d_%s", userID, s.now().UnixMilli(), SafeName(filename))
	url, err := s.store.Put(ctx, key, contentType, data)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransient, "media storage unavailable", err)
	}
	up := &Upload{Key: key, URL: url, Kind: kind, ContentType: contentType, Size: int64(len(data))}

	if kind == models.MediaImage {
		thumb, err := Thumbnail(data, s.thumbWidth)
		if err != nil {
			s.log.Debug("thumbnail skipped", zap.String("key", key), zap.Error(err))
			return up, nil
		}
		turl, err := s.store.Put(ctx, key+"_thumb.jpg", "image/jpeg", thumb)
		if err != nil {
			s.log.Warn("thumbnail upload failed", zap.String("key", key), zap.Error(err))
			return up, nil
		}
		up.ThumbnailURL = turl
	}
	return up, nil
}

// Thumbnail scales an image to width, keeping the aspect ratio, as JPEG.
func Thumbnail(data []byte, width int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() > width {
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
