package util

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func writeImage(t *testing.T, path string, encode func(*bytes.Buffer, image.Image) error) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func encodePNG(buf *bytes.Buffer, img image.Image) error { return png.Encode(buf, img) }
func encodeBMP(buf *bytes.Buffer, img image.Image) error { return bmp.Encode(buf, img) }

func TestLoadDirectoryImageFiles(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, filepath.Join(dir, "b.png"), encodePNG)
	writeImage(t, filepath.Join(dir, "a.bmp"), encodeBMP)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.png"), 0o755))

	files, err := LoadDirectoryImageFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.bmp"), files[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.png"), files[1].Path)

	for _, f := range files {
		img, _, err := f.Decode()
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	}

	_, format, err := files[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "bmp", format)
}

func TestLoadImageFiles(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(t.TempDir(), "frame")
	writeImage(t, single, encodePNG)
	writeImage(t, filepath.Join(dir, "x.png"), encodePNG)

	files, err := LoadImageFiles(single, dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, single, files[0].Path, "explicit files keep any extension")

	_, err = LoadImageFiles(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestDecodeInvalid(t *testing.T) {
	_, _, err := ImageFile{Path: "bad.png", Data: []byte("nope")}.Decode()
	assert.Error(t, err)
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a.JPG"))
	assert.True(t, IsImageFile("a.webp"))
	assert.False(t, IsImageFile("a.txt"))
	assert.False(t, IsImageFile("jpg"))
}
