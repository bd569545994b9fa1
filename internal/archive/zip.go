// Package archive bundles a run's result files into a timestamped zip.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Bundle moves the given files into a new directory named dirName (created
// under parent) and zips that directory as <dirName>.zip next to it.
// Returns the path of the written zip file.
func Bundle(parent string, dirName string, files []string) (string, error) {
	dir := filepath.Join(parent, dirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}

	moved := make([]string, 0, len(files))
	for _, f := range files {
		dst := filepath.Join(dir, filepath.Base(f))
		if err := os.Rename(f, dst); err != nil {
			return "", fmt.Errorf("moving %s into archive directory: %w", f, err)
		}
		moved = append(moved, dst)
	}

	zipPath := dir + ".zip"
	if err := writeZip(zipPath, dirName, moved); err != nil {
		return "", err
	}
	return zipPath, nil
}

func writeZip(zipPath string, dirName string, files []string) error {
	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("creating zip file: %w", err)
	}
	zw := zip.NewWriter(out)

	for _, f := range files {
		if err := addFile(zw, filepath.Join(dirName, filepath.Base(f)), f); err != nil {
			zw.Close()
			out.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return fmt.Errorf("finalizing zip: %w", err)
	}
	return out.Close()
}

func addFile(zw *zip.Writer, name string, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer src.Close()

	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("adding %s to zip: %w", name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("writing %s to zip: %w", name, err)
	}
	return nil
}
