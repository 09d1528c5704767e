// Package util - Loading of image files for batch detection.
package util

import (
	"bytes"
	"image"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // register BMP decoding
	_ "golang.org/x/image/webp" // register WebP decoding
)

// ImageExtensions lists the file extensions picked up from directories.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
}

// Decode decodes the image in any registered format.
//
// Returns:
//   - image.Image: The decoded image.
//   - string: The format name, e.g. "jpeg".
//   - error: Error if the data is not a supported image.
func (f ImageFile) Decode() (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, "", errors.Wrapf(err, "decode %s", f.Path)
	}
	return img, format, nil
}

// LoadImageFiles reads the given image files. Directories are expanded to the
// image files they directly contain, sorted by name; files named explicitly
// are read whatever their extension.
//
// Arguments:
// - paths: File or directory paths.
//
// Returns:
// - []ImageFile: The image files in argument order.
// - error: Error if a path cannot be read.
func LoadImageFiles(paths ...string) ([]ImageFile, error) {
	var files []ImageFile
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", p)
		}

		if !info.IsDir() {
			f, err := readImageFile(p)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}

		dir, err := LoadDirectoryImageFiles(p)
		if err != nil {
			return nil, err
		}
		files = append(files, dir...)
	}
	return files, nil
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile sorted by path.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dir %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() || !IsImageFile(entry.Name()) {
			continue
		}
		f, err := readImageFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	return files, nil
}

// IsImageFile reports whether name has one of ImageExtensions.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range ImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

func readImageFile(path string) (ImageFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ImageFile{}, errors.Wrapf(err, "read %s", path)
	}
	return ImageFile{Path: path, Data: data}, nil
}
