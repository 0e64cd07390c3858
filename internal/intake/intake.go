// Package intake collects and validates screenshot files before upload.
//
// Validation is all-or-nothing per batch: if any candidate in a batch violates
// a limit, the whole batch is rejected with a single human-readable reason and
// the set is left unchanged. Non-image files are skipped silently, as are
// exact duplicates of already-accepted images.
package intake

import (
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/oklog/ulid/v2"

	"github.com/sdetpro/tcgen/internal/models"
)

// Defaults applied when Config fields are zero.
const (
	DefaultMaxImages     = 5
	DefaultMaxImageBytes = 10 * 1024 * 1024
)

// allowedTypes is the image subtype allow-list. Sniffed types outside this
// list reject the batch; non-image types are skipped without error.
var allowedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Config bounds what a Set will accept.
type Config struct {
	MaxImages     int
	MaxImageBytes int64
}

// ValidationError is a user-facing rejection reason. It never reaches the
// network; callers show it inline next to the offending input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Set holds accepted images and their preview snapshots. Not safe for
// concurrent use; callers on concurrent surfaces serialize access themselves.
type Set struct {
	cfg        Config
	images     []*models.AttachedImage
	previewDir string
}

// NewSet creates an empty Set, applying defaults for zero config fields.
func NewSet(cfg Config) *Set {
	if cfg.MaxImages <= 0 {
		cfg.MaxImages = DefaultMaxImages
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	return &Set{cfg: cfg}
}

// candidate is a file that passed the image-type sniff and awaits limit checks.
type candidate struct {
	path     string
	filename string
	size     int64
	ctype    string
	data     []byte // only set for reader-sourced candidates
}

// Add validates the given files and appends the accepted ones to the set.
// It returns the images accepted from this batch. A limit violation rejects
// the entire batch with a *ValidationError and leaves the set unchanged.
func (s *Set) Add(paths ...string) ([]*models.AttachedImage, error) {
	var cands []candidate
	for _, p := range paths {
		c, ok, err := sniffFile(p)
		if err != nil {
			return nil, err
		}
		if ok {
			cands = append(cands, c)
		}
	}
	return s.accept(cands)
}

// AddDir expands a directory (non-recursive) and adds every image file in it,
// in lexical order.
func (s *Set) AddDir(dir string) ([]*models.AttachedImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read images directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return s.Add(paths...)
}

// AddReader adds a single image from a stream (the paste surface). The name
// is used for display and duplicate detection.
func (s *Set) AddReader(name string, r io.Reader) ([]*models.AttachedImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image stream: %w", err)
	}
	ctype := http.DetectContentType(data)
	if !strings.HasPrefix(ctype, "image/") {
		return nil, nil // non-image paste content is ignored
	}
	c := candidate{filename: name, size: int64(len(data)), ctype: ctype, data: data}
	return s.accept([]candidate{c})
}

// sniffFile stats and sniffs a file. ok is false for non-image files.
func sniffFile(path string) (candidate, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return candidate{}, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return candidate{}, false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return candidate{}, false, nil
	}

	// DetectContentType considers at most the first 512 bytes.
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return candidate{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	ctype := http.DetectContentType(buf[:n])
	if !strings.HasPrefix(ctype, "image/") {
		return candidate{}, false, nil
	}

	return candidate{
		path:     path,
		filename: filepath.Base(path),
		size:     info.Size(),
		ctype:    ctype,
	}, true, nil
}

// accept runs the batch checks and, on success, snapshots and appends the
// candidates. All-or-nothing: the first violation rejects everything.
func (s *Set) accept(cands []candidate) ([]*models.AttachedImage, error) {
	// Drop duplicates of already-accepted images and within-batch repeats.
	// Duplicates are not an error.
	fresh := cands[:0]
	for _, c := range cands {
		if s.has(c.filename, c.size) || hasCandidate(fresh, c) {
			continue
		}
		fresh = append(fresh, c)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	if len(s.images)+len(fresh) > s.cfg.MaxImages {
		return nil, &ValidationError{
			Reason: fmt.Sprintf("you can attach at most %d images", s.cfg.MaxImages),
		}
	}
	for _, c := range fresh {
		if c.size > s.cfg.MaxImageBytes {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("%s is larger than the %s per-image limit", c.filename, byteSize(s.cfg.MaxImageBytes)),
			}
		}
		if !allowedTypes[c.ctype] {
			return nil, &ValidationError{
				Reason: fmt.Sprintf("%s has unsupported image type %s (allowed: png, jpeg, gif, webp)", c.filename, c.ctype),
			}
		}
	}

	// Every accepted image gets its preview snapshot before Add returns.
	accepted := make([]*models.AttachedImage, 0, len(fresh))
	for _, c := range fresh {
		img, err := s.snapshot(c)
		if err != nil {
			for _, a := range accepted {
				releasePreview(a)
			}
			return nil, err
		}
		accepted = append(accepted, img)
	}

	s.images = append(s.images, accepted...)
	return accepted, nil
}

// snapshot copies the candidate bytes into the preview dir and probes the
// image dimensions. The snapshot is the resource Remove/Clear must release.
func (s *Set) snapshot(c candidate) (*models.AttachedImage, error) {
	if s.previewDir == "" {
		dir, err := os.MkdirTemp("", "tcgen-previews-")
		if err != nil {
			return nil, fmt.Errorf("create preview directory: %w", err)
		}
		s.previewDir = dir
	}

	token := ulid.Make().String()
	dst := filepath.Join(s.previewDir, token+"-"+c.filename)

	if c.data != nil {
		if err := os.WriteFile(dst, c.data, 0o600); err != nil {
			return nil, fmt.Errorf("write preview for %s: %w", c.filename, err)
		}
	} else {
		if err := copyFile(c.path, dst); err != nil {
			return nil, fmt.Errorf("write preview for %s: %w", c.filename, err)
		}
	}

	img := &models.AttachedImage{
		Path:        c.path,
		Filename:    c.filename,
		Size:        c.size,
		ContentType: c.ctype,
		UploadToken: token,
		PreviewPath: dst,
	}
	// webp is not registered with image; dimensions stay zero there.
	if f, err := os.Open(dst); err == nil {
		if cfg, _, err := image.DecodeConfig(f); err == nil {
			img.Width, img.Height = cfg.Width, cfg.Height
		}
		f.Close()
	}
	return img, nil
}

// Images returns the accepted images in selection order.
func (s *Set) Images() []*models.AttachedImage { return s.images }

// Len reports the number of accepted images.
func (s *Set) Len() int { return len(s.images) }

// Remove drops the image matching (filename, size) and releases its preview.
// It reports whether anything was removed.
func (s *Set) Remove(filename string, size int64) bool {
	for i, img := range s.images {
		if img.Filename == filename && img.Size == size {
			releasePreview(img)
			s.images = append(s.images[:i], s.images[i+1:]...)
			return true
		}
	}
	return false
}

// Clear releases every preview and empties the set.
func (s *Set) Clear() {
	for _, img := range s.images {
		releasePreview(img)
	}
	s.images = nil
	if s.previewDir != "" {
		_ = os.Remove(s.previewDir) // succeeds only when empty, which it now is
		s.previewDir = ""
	}
}

func (s *Set) has(filename string, size int64) bool {
	for _, img := range s.images {
		if img.Filename == filename && img.Size == size {
			return true
		}
	}
	return false
}

func hasCandidate(cands []candidate, c candidate) bool {
	for _, x := range cands {
		if x.filename == c.filename && x.size == c.size {
			return true
		}
	}
	return false
}

// releasePreview removes the snapshot file. Safe to call more than once;
// the path is cleared after the first release.
func releasePreview(img *models.AttachedImage) {
	if img.PreviewPath == "" {
		return
	}
	_ = os.Remove(img.PreviewPath)
	img.PreviewPath = ""
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// byteSize renders a byte count the way the limit messages show it.
func byteSize(n int64) string {
	const mb = 1024 * 1024
	if n%mb == 0 {
		return fmt.Sprintf("%dMB", n/mb)
	}
	return fmt.Sprintf("%d bytes", n)
}
