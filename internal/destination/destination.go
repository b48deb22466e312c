// Package destination decides where a delivered file lands on disk.
package destination

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ibs-source/hoover-consumer/internal/message"
)

// DefaultCategory is the category map key used for unknown types.
const DefaultCategory = "_default"

var (
	// ErrMissingChecksum is returned when the sha_hash header is absent or empty.
	ErrMissingChecksum = errors.New("no checksum provided in message header")
	// ErrUnsafeFilename is returned when a filename has no usable basename.
	ErrUnsafeFilename = errors.New("filename has no usable basename")
)

// CategoryMap maps a type header value to an output subdirectory. It is
// immutable once built.
type CategoryMap struct {
	dirs map[string]string
}

// DefaultCategories returns the stock hoover category routing.
func DefaultCategories() map[string]string {
	return map[string]string{
		"darshan":       "darshanlogs",
		"manifest":      "manifests",
		DefaultCategory: "misc",
	}
}

// NewCategoryMap copies dirs into a CategoryMap. The map must contain
// DefaultCategory.
func NewCategoryMap(dirs map[string]string) (CategoryMap, error) {
	if _, ok := dirs[DefaultCategory]; !ok {
		return CategoryMap{}, fmt.Errorf("category map has no %q entry", DefaultCategory)
	}
	copied := make(map[string]string, len(dirs))
	for k, v := range dirs {
		copied[k] = v
	}
	return CategoryMap{dirs: copied}, nil
}

// Dir returns the subdirectory for category, falling back to the default.
func (m CategoryMap) Dir(category string) string {
	if dir, ok := m.dirs[category]; ok {
		return dir
	}
	return m.dirs[DefaultCategory]
}

// Destination is a resolved output location.
type Destination struct {
	ParentDir string
	FinalPath string
	// Checksum is the expected digest taken from the sha_hash header.
	Checksum string
	// Manifest is true when the filename was synthesised from the checksum.
	Manifest bool
}

// Resolver maps delivery headers to a Destination under an output root.
type Resolver struct {
	outputRoot string
	categories CategoryMap
}

// NewResolver creates a resolver rooted at outputRoot.
func NewResolver(outputRoot string, categories CategoryMap) *Resolver {
	return &Resolver{outputRoot: outputRoot, categories: categories}
}

// OutputRoot returns the configured output root.
func (r *Resolver) OutputRoot() string {
	return r.outputRoot
}

// Resolve computes the destination for a delivery. It never touches the
// filesystem.
func (r *Resolver) Resolve(headers message.Headers) (Destination, error) {
	checksum, ok := headers.Get(message.HeaderChecksum)
	if !ok || checksum == "" {
		return Destination{}, ErrMissingChecksum
	}

	// Manifests are keyed by their hash so a re-sent manifest overwrites
	// the earlier copy instead of piling up.
	manifest := false
	name, ok := headers.Get(message.HeaderFilename)
	if !ok || name == "" {
		name = "manifest_" + checksum + ".json"
		manifest = true
	}
	base, err := Basename(name)
	if err != nil {
		return Destination{Checksum: checksum, Manifest: manifest}, err
	}

	parent := r.parentDir(headers)
	return Destination{
		ParentDir: parent,
		FinalPath: filepath.Join(parent, base),
		Checksum:  checksum,
		Manifest:  manifest,
	}, nil
}

func (r *Resolver) parentDir(headers message.Headers) string {
	dir := ""
	if category, ok := headers.Get(message.HeaderType); ok {
		dir = r.categories.Dir(category)
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(r.outputRoot, dir)
}

// Basename strips every directory component from an untrusted filename.
// Both slash and backslash separators are treated as separators.
func Basename(name string) (string, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	switch name {
	case "", ".", "..":
		return "", ErrUnsafeFilename
	}
	return name, nil
}
