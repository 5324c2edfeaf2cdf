package upload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-fotoko/internal/obs"
)

var (
	// ErrFileTooLarge is returned when a part exceeds the per-file ceiling.
	ErrFileTooLarge = errors.New("upload: file too large")
	// ErrTooManyFiles is returned when a request carries more files than allowed.
	ErrTooManyFiles = errors.New("upload: too many files")
	// ErrUnsupportedType is returned when sniffed content is not an accepted image.
	ErrUnsupportedType = errors.New("upload: unsupported content type")
	// ErrNoFiles is returned when a request contains no file parts.
	ErrNoFiles = errors.New("upload: no files")
	// ErrNotMultipart is returned for requests that are not multipart/form-data.
	ErrNotMultipart = errors.New("upload: request is not multipart")
)

// DefaultAllowedTypes lists the image types accepted when Config.AllowedTypes is empty.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif", "image/heic", "image/heif"}

const sniffLen = 3072

// Config configures a Gateway.
type Config struct {
	Dir          string
	MaxFileBytes int64
	MaxFiles     int
	AllowedTypes []string
	Log          zerolog.Logger
	Now          func() time.Time
}

// StoredFile describes a file written to the upload directory.
type StoredFile struct {
	Field        string `json:"field"`
	OriginalName string `json:"originalName"`
	Filename     string `json:"filename"`
	Path         string `json:"-"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// Gateway streams multipart file parts to disk.
type Gateway struct {
	dir      string
	maxBytes int64
	maxFiles int
	allowed  []string
	log      zerolog.Logger
	now      func() time.Time
}

// NewGateway builds a Gateway, applying defaults for unset limits.
func NewGateway(cfg Config) *Gateway {
	g := &Gateway{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxFileBytes,
		maxFiles: cfg.MaxFiles,
		allowed:  cfg.AllowedTypes,
		log:      cfg.Log,
		now:      cfg.Now,
	}
	if g.dir == "" {
		g.dir = filepath.Join(os.TempDir(), "fotoko-uploads")
	}
	if g.maxBytes <= 0 {
		g.maxBytes = 15 << 20
	}
	if g.maxFiles <= 0 {
		g.maxFiles = 1000
	}
	if len(g.allowed) == 0 {
		g.allowed = DefaultAllowedTypes
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

// Dir returns the directory files are written to.
func (g *Gateway) Dir() string { return g.dir }

// Receive stores every file part of r. On failure, files already stored for
// the request are removed before the error is returned.
func (g *Gateway) Receive(r *http.Request) ([]StoredFile, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotMultipart, err)
	}
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	var stored []StoredFile
	fail := func(err error) ([]StoredFile, error) {
		g.Remove(stored)
		result := "error"
		switch {
		case errors.Is(err, ErrFileTooLarge), errors.Is(err, ErrTooManyFiles):
			result = "too_large"
		case errors.Is(err, ErrUnsupportedType):
			result = "unsupported"
		}
		obs.Inc(obs.UploadFilesTotal, result)
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return fail(fmt.Errorf("%w: request body limit reached", ErrFileTooLarge))
			}
			return fail(fmt.Errorf("read multipart: %w", err))
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		if len(stored) >= g.maxFiles {
			_ = part.Close()
			return fail(fmt.Errorf("%w: limit is %d", ErrTooManyFiles, g.maxFiles))
		}
		file, err := g.save(part.FormName(), part.FileName(), part)
		_ = part.Close()
		if err != nil {
			return fail(err)
		}
		stored = append(stored, file)
	}
	if len(stored) == 0 {
		return nil, ErrNoFiles
	}
	for _, f := range stored {
		obs.Inc(obs.UploadFilesTotal, "stored")
		obs.AddUploadBytes(f.Size)
	}
	return stored, nil
}

func (g *Gateway) save(field, original string, src io.Reader) (StoredFile, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(src, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return StoredFile{}, fmt.Errorf("read %s: %w", original, err)
	}
	head = head[:n]
	mt := mimetype.Detect(head)
	if !g.accepts(mt) {
		return StoredFile{}, fmt.Errorf("%w: %s is %s", ErrUnsupportedType, original, mt.String())
	}

	name := g.filename(field, mt.Extension())
	path := filepath.Join(g.dir, name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create %s: %w", name, err)
	}
	written, err := io.Copy(dst, io.LimitReader(io.MultiReader(bytes.NewReader(head), src), g.maxBytes+1))
	closeErr := dst.Close()
	if err == nil && written > g.maxBytes {
		err = fmt.Errorf("%w: %s exceeds %d bytes", ErrFileTooLarge, original, g.maxBytes)
	}
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			err = fmt.Errorf("%w: request body limit reached", ErrFileTooLarge)
		}
		return StoredFile{}, err
	}
	return StoredFile{
		Field:        field,
		OriginalName: filepath.Base(original),
		Filename:     name,
		Path:         path,
		ContentType:  mt.String(),
		Size:         written,
	}, nil
}

func (g *Gateway) accepts(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if slices.ContainsFunc(g.allowed, func(a string) bool { return m.Is(a) }) {
			return true
		}
	}
	return false
}

var unsafeField = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func (g *Gateway) filename(field, ext string) string {
	field = strings.Trim(unsafeField.ReplaceAllString(field, ""), "-")
	if field == "" {
		field = "file"
	}
	return fmt.Sprintf("%s-%d-%d%s", field, g.now().UnixMilli(), rand.Int64N(1_000_000_000), ext)
}

// Remove deletes stored files, logging failures.
func (g *Gateway) Remove(files []StoredFile) {
	for _, f := range files {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.log.Warn().Err(err).Str("file", f.Filename).Msg("failed to remove upload")
		}
	}
}

// FileServer serves stored files without directory listings.
func (g *Gateway) FileServer() http.Handler {
	fs := http.FileServer(http.Dir(g.dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		fs.ServeHTTP(w, r)
	})
}
