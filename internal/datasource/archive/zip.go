// Package archive unwraps a zip archive fetched by another source and yields
// the first member with the wanted extension.
package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"ecoetl/internal/datasource"
	"ecoetl/internal/etlerr"
)

// DefaultMaxBytes caps the buffered archive when Zip.MaxBytes is zero.
const DefaultMaxBytes int64 = 1 << 30

// Zip selects one member of the archive produced by Inner. The archive is
// read fully into memory because the zip directory sits at its end.
type Zip struct {
	Inner    datasource.Source
	Ext      string // member extension, compared case-insensitively
	MaxBytes int64
}

// NewZip wraps inner.
func NewZip(inner datasource.Source, ext string, maxBytes int64) *Zip {
	return &Zip{Inner: inner, Ext: ext, MaxBytes: maxBytes}
}

// Name is the inner source's file-name hint.
func (z *Zip) Name() string { return z.Inner.Name() }

// Open downloads the archive and opens the selected member. Failures of the
// inner source keep their kind; a corrupt archive, an oversized archive or
// one without a matching member is a SourceFormat error.
func (z *Zip) Open(ctx context.Context) (io.ReadCloser, error) {
	rc, err := z.Inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	limit := z.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		if etlerr.KindOf(err) != etlerr.Unknown {
			return nil, err
		}
		return nil, etlerr.New(etlerr.SourceUnavailable, "fetch", z.Inner.Name(), err)
	}
	if int64(len(data)) > limit {
		return nil, etlerr.New(etlerr.SourceFormat, "unzip", z.Inner.Name(),
			fmt.Errorf("archive exceeds %d bytes", limit))
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, etlerr.New(etlerr.SourceFormat, "unzip", z.Inner.Name(), err)
	}

	f := selectMember(zr.File, z.Ext)
	if f == nil {
		return nil, etlerr.New(etlerr.SourceFormat, "unzip", z.Inner.Name(),
			fmt.Errorf("no %s member in archive", z.Ext))
	}
	slog.Default().Debug("archive member selected", "component", "archive", "source", z.Inner.Name(),
		"member", f.Name, "bytes", f.UncompressedSize64)

	mr, err := f.Open()
	if err != nil {
		return nil, etlerr.New(etlerr.SourceFormat, "unzip", z.Inner.Name()+"!"+f.Name, err)
	}
	return &member{ReadCloser: mr, name: z.Inner.Name() + "!" + f.Name}, nil
}

func selectMember(files []*zip.File, ext string) *zip.File {
	for _, f := range files {
		if f.FileInfo().IsDir() {
			continue
		}
		if strings.EqualFold(path.Ext(f.Name), ext) {
			return f
		}
	}
	return nil
}

// member marks decompression failures as format errors.
type member struct {
	io.ReadCloser
	name string
}

func (m *member) Read(p []byte) (int, error) {
	n, err := m.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = etlerr.New(etlerr.SourceFormat, "unzip", m.name, err)
	}
	return n, err
}
