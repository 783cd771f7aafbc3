// Package catalog describes the images an answer may reference.
//
// The set of legal filenames is the union of the image files found in the
// images directory and the entries of an optional YAML catalog that maps a
// filename to a title and description:
//
//	bp1_network.png:
//	  title: Network segmentation
//	  description: Reference layout for the three-tier network.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// imageExts are the file extensions listed from the images directory.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
}

// Entry is the metadata recorded for one image.
type Entry struct {
	// Title is a short human-readable name.
	Title string `yaml:"title"`
	// Description explains what the image shows.
	Description string `yaml:"description"`
}

// Image is a resolved image reference.
type Image struct {
	// Filename is the image file name relative to the images directory.
	Filename string
	// Title is the catalog title, empty when the image is uncatalogued.
	Title string
	// Description is the catalog description, empty when uncatalogued.
	Description string
}

// Catalog is an immutable view of the available images. It is safe for
// concurrent use.
type Catalog struct {
	entries map[string]Entry
	files   []string
}

// Empty returns a catalog with no images.
func Empty() *Catalog {
	return &Catalog{entries: map[string]Entry{}}
}

// New builds a catalog from explicit entries and filenames.
func New(entries map[string]Entry, files []string) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for name, e := range entries {
		c.entries[name] = e
	}
	c.files = mergeNames(files, c.entries)
	return c
}

// Load reads the images directory and the YAML catalog. A missing directory
// or catalog file is not an error; a malformed catalog is.
func Load(imagesDir, catalogPath string) (*Catalog, error) {
	files, err := listImages(imagesDir)
	if err != nil {
		return nil, err
	}
	entries, err := readEntries(catalogPath)
	if err != nil {
		return nil, err
	}
	return New(entries, files), nil
}

// Files returns the legal image filenames in sorted order.
func (c *Catalog) Files() []string {
	out := make([]string, len(c.files))
	copy(out, c.files)
	return out
}

// Len returns the number of legal filenames.
func (c *Catalog) Len() int { return len(c.files) }

// Known reports whether filename is a legal image.
func (c *Catalog) Known(filename string) bool {
	i := sort.SearchStrings(c.files, filename)
	return i < len(c.files) && c.files[i] == filename
}

// Lookup returns the catalog entry for filename.
func (c *Catalog) Lookup(filename string) (Entry, bool) {
	e, ok := c.entries[filename]
	return e, ok
}

// Resolve maps filenames to images, preserving order and dropping
// duplicates and blanks. Unknown filenames are kept with empty metadata
// unless dropUnknown is set.
func (c *Catalog) Resolve(filenames []string, dropUnknown bool) []Image {
	out := make([]Image, 0, len(filenames))
	seen := make(map[string]bool, len(filenames))
	for _, raw := range filenames {
		name := strings.TrimSpace(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if dropUnknown && !c.Known(name) {
			continue
		}
		e, _ := c.Lookup(name)
		out = append(out, Image{Filename: name, Title: e.Title, Description: e.Description})
	}
	return out
}

func listImages(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read images dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, e.Name())
	}
	return files, nil
}

func readEntries(path string) (map[string]Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var entries map[string]Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return entries, nil
}

func mergeNames(files []string, entries map[string]Entry) []string {
	set := make(map[string]bool, len(files)+len(entries))
	for _, f := range files {
		set[f] = true
	}
	for name := range entries {
		set[name] = true
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
