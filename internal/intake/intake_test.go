package intake

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePNG writes a small valid PNG and returns its path.
func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestAdd_AcceptsImageAndBuildsPreview(t *testing.T) {
	dir := t.TempDir()
	p := writePNG(t, dir, "shot.png", 12, 8)

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	accepted, err := set.Add(p)
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	img := accepted[0]
	assert.Equal(t, "shot.png", img.Filename)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, 12, img.Width)
	assert.Equal(t, 8, img.Height)
	assert.NotEmpty(t, img.UploadToken)

	// The preview snapshot exists and holds the same bytes.
	require.NotEmpty(t, img.PreviewPath)
	orig, err := os.ReadFile(p)
	require.NoError(t, err)
	snap, err := os.ReadFile(img.PreviewPath)
	require.NoError(t, err)
	assert.Equal(t, orig, snap)
}

func TestAdd_SkipsNonImageSilently(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("plain text, not an image"), 0o644))
	p := writePNG(t, dir, "shot.png", 4, 4)

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	accepted, err := set.Add(txt, p)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "shot.png", accepted[0].Filename)
}

func TestAdd_RejectsWholeBatchOverCount(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 4, 4)
	b := writePNG(t, dir, "b.png", 5, 5)
	c := writePNG(t, dir, "c.png", 6, 6)

	set := NewSet(Config{MaxImages: 2})
	t.Cleanup(set.Clear)

	_, err := set.Add(a)
	require.NoError(t, err)

	// b+c would land at 3 total: nothing from this batch may be accepted.
	accepted, err := set.Add(b, c)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "at most 2 images")
	assert.Nil(t, accepted)
	assert.Equal(t, 1, set.Len())
}

func TestAdd_RejectsWholeBatchOversize(t *testing.T) {
	dir := t.TempDir()
	small := writePNG(t, dir, "small.png", 2, 2)
	big := writePNG(t, dir, "big.png", 64, 64)

	info, err := os.Stat(big)
	require.NoError(t, err)

	set := NewSet(Config{MaxImageBytes: info.Size() - 1})
	t.Cleanup(set.Clear)

	accepted, err := set.Add(small, big)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "big.png")

	// No partial accept: small.png must not have slipped in.
	assert.Nil(t, accepted)
	assert.Equal(t, 0, set.Len())
}

func TestAdd_RejectsDisallowedImageType(t *testing.T) {
	dir := t.TempDir()
	// Minimal BMP header; sniffs as image/bmp, which is outside the allow-list.
	bmp := filepath.Join(dir, "shot.bmp")
	require.NoError(t, os.WriteFile(bmp, append([]byte("BM"), make([]byte, 64)...), 0o644))

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	_, err := set.Add(bmp)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "image/bmp")
}

func TestAdd_DeduplicatesByNameAndSize(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	a := writePNG(t, dirA, "shot.png", 10, 10)
	b := writePNG(t, dirB, "shot.png", 10, 10) // same name, same bytes

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	accepted, err := set.Add(a, b)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
	assert.Equal(t, 1, set.Len())
}

func TestAdd_Idempotent(t *testing.T) {
	dir := t.TempDir()
	p := writePNG(t, dir, "shot.png", 4, 4)

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	first, err := set.Add(p)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// The second call is a no-op, not an error.
	second, err := set.Add(p)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 1, set.Len())
}

func TestRemove_ReleasesPreview(t *testing.T) {
	dir := t.TempDir()
	p := writePNG(t, dir, "shot.png", 4, 4)

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	accepted, err := set.Add(p)
	require.NoError(t, err)
	preview := accepted[0].PreviewPath
	size := accepted[0].Size

	require.True(t, set.Remove("shot.png", size))
	assert.Equal(t, 0, set.Len())

	_, err = os.Stat(preview)
	assert.True(t, os.IsNotExist(err), "preview snapshot should be removed")
	assert.Empty(t, accepted[0].PreviewPath)

	// Removing again reports false and does not panic.
	assert.False(t, set.Remove("shot.png", size))
}

func TestClear_ReleasesAllPreviews(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 4, 4)
	b := writePNG(t, dir, "b.png", 5, 5)

	set := NewSet(Config{})
	accepted, err := set.Add(a, b)
	require.NoError(t, err)
	require.Len(t, accepted, 2)

	var previews []string
	for _, img := range accepted {
		previews = append(previews, img.PreviewPath)
	}

	set.Clear()
	assert.Equal(t, 0, set.Len())
	for _, p := range previews {
		_, err := os.Stat(p)
		assert.True(t, os.IsNotExist(err), "preview %s should be removed", p)
	}
}

func TestAddDir(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, dir, "a.png", 4, 4)
	writePNG(t, dir, "b.png", 5, 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("# not an image"), 0o644))

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	accepted, err := set.AddDir(dir)
	require.NoError(t, err)
	require.Len(t, accepted, 2)
	assert.Equal(t, "a.png", accepted[0].Filename)
	assert.Equal(t, "b.png", accepted[1].Filename)
}

func TestAddReader(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	accepted, err := set.AddReader("pasted.png", &buf)
	require.NoError(t, err)
	require.Len(t, accepted, 1)
	assert.Equal(t, "pasted.png", accepted[0].Filename)
	assert.Equal(t, 3, accepted[0].Width)
	assert.NotEmpty(t, accepted[0].PreviewPath)
}

func TestAddReader_IgnoresNonImage(t *testing.T) {
	set := NewSet(Config{})
	t.Cleanup(set.Clear)

	accepted, err := set.AddReader("pasted.txt", bytes.NewBufferString("just text"))
	require.NoError(t, err)
	assert.Empty(t, accepted)
	assert.Equal(t, 0, set.Len())
}
