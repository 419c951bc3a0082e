package images

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// writeArchive zips files into a new file at path
func writeArchive(path string, files []string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	zw := zip.NewWriter(out)
	for _, file := range files {
		if err := addFile(zw, file); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, file string) error {
	in, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(file), err)
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   filepath.Base(file),
		Method: zip.Deflate,
	})
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", filepath.Base(file), err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("write %s to archive: %w", filepath.Base(file), err)
	}
	return nil
}

// RemoveArchives deletes archive files, ignoring ones already gone
func RemoveArchives(archives map[string]string) {
	for _, path := range archives {
		_ = os.Remove(path)
	}
}
