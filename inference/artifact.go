package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"github.com/pkg/errors"
)

// DefaultCacheDir is where remote model artifacts are stored when no cache
// directory is configured.
func DefaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "go-helmet", "models")
	}
	return filepath.Join(os.TempDir(), "go-helmet", "models")
}

// ResolveArtifact returns a local path for a model artifact.
//
// Local paths are returned as is. Anything else is treated as a go-getter
// source (http, https, s3, gcs, ...) and downloaded into cacheDir once; later
// calls reuse the cached file.
//
// Arguments:
//   - ctx: Cancels the download.
//   - src: A local path or a remote URL.
//   - cacheDir: The download directory. Empty uses DefaultCacheDir.
//
// Returns:
//   - string: The local path of the artifact.
//   - error: If the artifact is missing or the download failed.
func ResolveArtifact(ctx context.Context, src, cacheDir string) (string, error) {
	if src == "" {
		return "", errors.New("model path is empty")
	}
	if _, err := os.Stat(src); err == nil {
		return src, nil
	}
	if !isRemote(src) {
		return "", errors.Errorf("model file %s does not exist", src)
	}

	if cacheDir == "" {
		cacheDir = DefaultCacheDir()
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create cache dir %s", cacheDir)
	}

	dst := filepath.Join(cacheDir, artifactName(src))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	// Every download gets its own staging directory inside the cache and is
	// renamed into place, so concurrent loads never share a partial file.
	staging, err := os.MkdirTemp(cacheDir, ".partial-*")
	if err != nil {
		return "", errors.Wrapf(err, "create staging dir in %s", cacheDir)
	}
	defer os.RemoveAll(staging)

	tmp := filepath.Join(staging, filepath.Base(dst))
	if err := getter.GetFile(tmp, src, getter.WithContext(ctx)); err != nil {
		return "", errors.Wrapf(err, "download %s", src)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return "", errors.Wrapf(err, "store %s", dst)
	}

	return dst, nil
}

func isRemote(src string) bool {
	// go-getter forced getters look like "s3::https://..." or "gcs::...".
	if strings.Contains(src, "::") {
		return true
	}
	u, err := url.Parse(src)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// artifactName is the cache file name of src: a digest of the full source
// followed by its base name, so equal base names from different sources do
// not collide.
func artifactName(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])[:16] + "-" + artifactBase(src)
}

func artifactBase(src string) string {
	if i := strings.Index(src, "::"); i >= 0 {
		src = src[i+2:]
	}
	if u, err := url.Parse(src); err == nil && u.Path != "" {
		if name := path.Base(u.Path); name != "/" && name != "." {
			return name
		}
	}
	return "model"
}
