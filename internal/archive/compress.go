package archive

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/klauspost/compress/gzip"
)

// Compress bundles the tree under srcDir into a gzip-compressed tar at dst and
// returns the number of regular files written.
//
// The archive is built in a temporary file next to dst, synced, then renamed
// over dst. On any failure the temporary file is removed and dst is left as it
// was: absent, or the previous complete archive.
func Compress(ctx context.Context, srcDir, dst string) (int, error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return 0, errors.Wrap(err, "archive: source")
	}
	if !info.IsDir() {
		return 0, errors.Newf("archive: source %s is not a directory", srcDir)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*.tmp")
	if err != nil {
		return 0, errors.Wrap(err, "archive: create temp")
	}
	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)

	files, err := addTree(ctx, tw, srcDir, map[string]bool{
		filepath.Clean(dst):        true,
		filepath.Clean(tmp.Name()): true,
	})
	if err != nil {
		return 0, err
	}

	if err := tw.Close(); err != nil {
		return 0, errors.Wrap(err, "archive: close tar")
	}
	if err := gz.Close(); err != nil {
		return 0, errors.Wrap(err, "archive: close gzip")
	}
	if err := tmp.Sync(); err != nil {
		return 0, errors.Wrap(err, "archive: sync")
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrap(err, "archive: close")
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return 0, errors.Wrap(err, "archive: chmod")
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, errors.Wrap(err, "archive: rename")
	}
	renamed = true
	return files, nil
}

func addTree(ctx context.Context, tw *tar.Writer, root string, skip map[string]bool) (int, error) {
	files := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root || skip[filepath.Clean(p)] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		link := ""
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(p); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		_ = f.Close()
		if err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		return files, errors.Wrapf(err, "archive: add %s", root)
	}
	return files, nil
}

// Verify reads the archive at path end to end and returns its entry names.
// Directory entries keep their trailing slash.
func Verify(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "archive: open")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "archive: gzip header")
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return names, errors.Wrapf(err, "archive: entry %d", len(names)+1)
		}
		if _, err := io.Copy(io.Discard, tr); err != nil {
			return names, errors.Wrapf(err, "archive: read %s", hdr.Name)
		}
		names = append(names, hdr.Name)
	}
}

// Files filters Verify output down to regular file names.
func Files(names []string) []string {
	var out []string
	for _, n := range names {
		if !strings.HasSuffix(n, "/") {
			out = append(out, n)
		}
	}
	return out
}
