package market

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/quantarc/engine/errs"
)

// WriteZip writes the entry set to path, creating parent directories. Entry
// names are written in sorted order so output is deterministic.
func WriteZip(path string, entries map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errs.New("market/zip", errs.CodeData,
			errs.WithMessage("create zip directory"), errs.WithCause(err))
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry, err := w.Create(name)
		if err != nil {
			return errs.New("market/zip", errs.CodeData,
				errs.WithMessage("create zip entry "+name), errs.WithCause(err))
		}
		if _, err := entry.Write(entries[name]); err != nil {
			return errs.New("market/zip", errs.CodeData,
				errs.WithMessage("write zip entry "+name), errs.WithCause(err))
		}
	}
	if err := w.Close(); err != nil {
		return errs.New("market/zip", errs.CodeData,
			errs.WithMessage("finalize zip"), errs.WithCause(err))
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o640); err != nil {
		return errs.New("market/zip", errs.CodeData,
			errs.WithMessage("write zip file"), errs.WithCause(err))
	}
	return nil
}

// ReadZipEntry returns the named entry's bytes. An empty name selects the
// first entry, which is the convention for single-file data zips whose
// internal names are arbitrary.
func ReadZipEntry(path, name string) ([]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errs.New("market/zip", errs.CodeData,
			errs.WithMessage("open zip "+path), errs.WithCause(err))
	}
	defer func() { _ = r.Close() }()

	for _, f := range r.File {
		if name != "" && f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errs.New("market/zip", errs.CodeData,
				errs.WithMessage("open zip entry "+f.Name), errs.WithCause(err))
		}
		data, err := io.ReadAll(rc)
		closeErr := rc.Close()
		if err != nil {
			return nil, errs.New("market/zip", errs.CodeData,
				errs.WithMessage("read zip entry "+f.Name), errs.WithCause(err))
		}
		if closeErr != nil {
			return nil, errs.New("market/zip", errs.CodeData,
				errs.WithMessage("close zip entry "+f.Name), errs.WithCause(closeErr))
		}
		return data, nil
	}
	return nil, errs.New("market/zip", errs.CodeNotFound,
		errs.WithMessage("zip entry not found in "+path))
}

// ReadZip returns every entry in the archive.
func ReadZip(path string) (map[string][]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, errs.New("market/zip", errs.CodeData,
			errs.WithMessage("open zip "+path), errs.WithCause(err))
	}
	defer func() { _ = r.Close() }()

	out := make(map[string][]byte, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return nil, errs.New("market/zip", errs.CodeData,
				errs.WithMessage("open zip entry "+f.Name), errs.WithCause(err))
		}
		data, err := io.ReadAll(rc)
		closeErr := rc.Close()
		if err != nil {
			return nil, errs.New("market/zip", errs.CodeData,
				errs.WithMessage("read zip entry "+f.Name), errs.WithCause(err))
		}
		if closeErr != nil {
			return nil, errs.New("market/zip", errs.CodeData,
				errs.WithMessage("close zip entry "+f.Name), errs.WithCause(closeErr))
		}
		out[f.Name] = data
	}
	return out, nil
}
