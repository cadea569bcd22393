// Package archive builds the tar blob downltar serves. The builder writes to
// a scratch file under the system temp directory; the caller streams it out
// and must call Cleanup afterwards, the scratch file never survives a request.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNoFiles means the store holds nothing with the requested extension.
	// Distinct from a build failure so clients can tell the two apart.
	ErrNoFiles = errors.New("archive: no files to archive")
)

// ListMatching walks root and returns the relative paths of all regular files
// with ext, mirroring the recursive scan the archive covers.
func ListMatching(root, ext string) ([]string, error) {
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), "."+ext) {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Result is a built archive ready to stream.
type Result struct {
	Path string
	Size int64
}

// Cleanup removes the scratch file. Safe on every exit path.
func (r *Result) Cleanup() {
	if r.Path != "" {
		os.Remove(r.Path)
	}
}

// Build creates a tar of the given relative files under root. Returns
// ErrNoFiles when files is empty; any other failure is a build error.
func Build(root string, files []string) (*Result, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	tmp, err := os.CreateTemp("", "distfs-archive-*.tar")
	if err != nil {
		return nil, fmt.Errorf("archive scratch file: %w", err)
	}
	res := &Result{Path: tmp.Name()}
	tw := tar.NewWriter(tmp)
	for _, rel := range files {
		if err := addFile(tw, root, rel); err != nil {
			tw.Close()
			tmp.Close()
			res.Cleanup()
			return nil, err
		}
	}
	if err := tw.Close(); err != nil {
		tmp.Close()
		res.Cleanup()
		return nil, err
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		res.Cleanup()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		res.Cleanup()
		return nil, err
	}
	res.Size = info.Size()
	return res, nil
}

func addFile(tw *tar.Writer, root, rel string) error {
	full := filepath.Join(root, rel)
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
