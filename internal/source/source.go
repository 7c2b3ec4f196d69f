// Package source provides page-image sources for the extraction pipeline.
// A source yields the pages of one document in a fixed order; rasterization
// of PDFs and similar formats happens upstream, so every source deals in
// ready-made page images.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PageImage is one raster page of a document. Index is 1-based.
type PageImage struct {
	Index int
	Data  []byte
}

// Source yields the page images of a single document. Pages must return
// the same finite sequence on every call so a caller can restart a run.
type Source interface {
	// Name identifies the document, typically its filename.
	Name() string
	// Pages returns all page images in page order.
	Pages(ctx context.Context) ([]PageImage, error)
}

// imageExts lists the raster formats accepted from disk.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// IsImagePath reports whether path has a supported image extension.
func IsImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// DirSource reads every image file in a directory as one document,
// pages ordered by filename.
type DirSource struct {
	Dir string
}

func (s DirSource) Name() string { return filepath.Base(s.Dir) }

func (s DirSource) Pages(ctx context.Context) ([]PageImage, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", s.Dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsImagePath(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(s.Dir, e.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no page images in %s", s.Dir)
	}
	return readPages(ctx, paths)
}

// FileSource treats an explicit list of image files as one document,
// one page per file in the given order.
type FileSource struct {
	DocName string
	Paths   []string
}

func (s FileSource) Name() string {
	if s.DocName != "" {
		return s.DocName
	}
	if len(s.Paths) > 0 {
		return filepath.Base(s.Paths[0])
	}
	return ""
}

func (s FileSource) Pages(ctx context.Context) ([]PageImage, error) {
	if len(s.Paths) == 0 {
		return nil, fmt.Errorf("file source %q has no pages", s.DocName)
	}
	return readPages(ctx, s.Paths)
}

// BytesSource holds in-memory page images, as received from an upload.
type BytesSource struct {
	DocName string
	Images  [][]byte
}

func (s BytesSource) Name() string { return s.DocName }

func (s BytesSource) Pages(_ context.Context) ([]PageImage, error) {
	if len(s.Images) == 0 {
		return nil, fmt.Errorf("document %q has no pages", s.DocName)
	}
	pages := make([]PageImage, len(s.Images))
	for i, data := range s.Images {
		pages[i] = PageImage{Index: i + 1, Data: data}
	}
	return pages, nil
}

func readPages(ctx context.Context, paths []string) ([]PageImage, error) {
	pages := make([]PageImage, 0, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read page %s: %w", path, err)
		}
		pages = append(pages, PageImage{Index: i + 1, Data: data})
	}
	return pages, nil
}
