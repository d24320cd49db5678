// Package loader turns uploaded files into page-level text documents. Each
// supported format is one Loader implementation; a Registry dispatches on the
// lower-cased file extension.
package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kbchat/backend/internal/document"
)

var ErrUnsupportedType = errors.New("unsupported file type")

type Loader interface {
	// Load parses the file at path. source is the name reported as provenance.
	Load(ctx context.Context, path, source string) ([]document.Page, error)
	Extensions() []string
}

type Registry struct {
	loaders map[string]Loader
}

func NewRegistry(loaders ...Loader) *Registry {
	r := &Registry{loaders: make(map[string]Loader)}
	for _, l := range loaders {
		for _, ext := range l.Extensions() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// DefaultRegistry recognises pdf, xlsx, xls and csv.
func DefaultRegistry() *Registry {
	return NewRegistry(NewPDFLoader(), NewExcelLoader(), NewCSVLoader())
}

func (r *Registry) For(ext string) (Loader, error) {
	l, ok := r.loaders[strings.ToLower(ext)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return l, nil
}

func (r *Registry) Supports(ext string) bool {
	_, ok := r.loaders[strings.ToLower(ext)]
	return ok
}

func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// ExtOf returns the lower-cased extension of name without the dot.
func ExtOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// recoverParse converts a parser panic into an error. Both the PDF and the
// legacy xls readers panic on some malformed inputs.
func recoverParse(path string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("failed to parse %s: %v", filepath.Base(path), r)
	}
}
