// Package extract reads pre-extracted reference text and cuts it into
// classification-sized chunks. PDF-to-text conversion itself happens
// upstream; this package consumes its page-segmented plain-text output.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PageReader loads the page-segmented text the upstream extractor emits:
// one .txt file per article, pages separated by form feeds.
type PageReader struct{}

// NewPageReader creates a reader.
func NewPageReader() *PageReader {
	return &PageReader{}
}

// ReadArticle returns the pages of one article file. The article name is
// the file name without extension. A .pdf path is mapped to its sibling
// .txt, which the upstream converter drops next to each downloaded PDF.
func (r *PageReader) ReadArticle(path string) (name string, pages []string, err error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".txt"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("read article text: %w", err)
	}

	base := filepath.Base(path)
	name = strings.TrimSuffix(base, filepath.Ext(base))

	for _, page := range strings.Split(string(data), "\f") {
		page = strings.TrimSpace(page)
		if page != "" {
			pages = append(pages, page)
		}
	}
	return name, pages, nil
}

// ReadDir loads every .txt article in a directory, keyed by article name.
func (r *PageReader) ReadDir(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read article directory: %w", err)
	}

	articles := make(map[string][]string)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		name, pages, err := r.ReadArticle(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if len(pages) > 0 {
			articles[name] = pages
		}
	}
	return articles, nil
}
