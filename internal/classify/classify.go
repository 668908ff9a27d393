// Package classify decides which file names a scan keeps.
package classify

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// AllFiles is the wildcard category; it resolves to a nil extension set.
const AllFiles = "[All Files]"

// DefaultCustomList is the custom extension list a new session starts with.
var DefaultCustomList = []string{".mp4", ".mkv", ".avi"}

var builtinCategories = []Category{
	{Name: "[Pictures]", Extensions: []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"}},
	{Name: "[Music]", Extensions: []string{".mp3", ".wav", ".aac"}},
	{Name: "[Documents]", Extensions: []string{".txt", ".doc", ".docx", ".pdf"}},
	{Name: "[Videos]", Extensions: []string{".mp4", ".mkv", ".avi"}},
	{Name: "[Compressed]", Extensions: []string{".zip", ".rar", ".7z"}},
	{Name: AllFiles},
}

// Category is a named group of extensions. A nil Extensions slice means
// every file is accepted.
type Category struct {
	Name       string   `yaml:"name"`
	Extensions []string `yaml:"extensions"`
}

// Accepts reports whether fileName is kept by the extension set. A nil set
// accepts everything; otherwise the lower-cased name must end with one of the
// lower-cased extensions. Extensions are literal suffixes: "jpg" and ".jpg"
// are both valid and match differently.
func Accepts(fileName string, extensions []string) bool {
	if extensions == nil {
		return true
	}
	lower := strings.ToLower(fileName)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// ParseCustomList splits a comma-separated extension list, trimming each
// token and dropping empty ones.
func ParseCustomList(s string) []string {
	exts := []string{}
	for _, tok := range strings.Split(s, ",") {
		if tok = strings.TrimSpace(tok); tok != "" {
			exts = append(exts, tok)
		}
	}
	return exts
}

// Catalog holds the known categories and the session's custom list.
type Catalog struct {
	mu         sync.RWMutex
	categories []Category
	custom     []string
}

// NewCatalog returns a catalog with the built-in categories.
func NewCatalog() *Catalog {
	c := &Catalog{custom: append([]string(nil), DefaultCustomList...)}
	for _, cat := range builtinCategories {
		c.categories = append(c.categories, cloneCategory(cat))
	}
	return c
}

type categoriesFile struct {
	Categories []Category `yaml:"categories"`
	CustomList []string   `yaml:"custom_list"`
}

// LoadFile merges categories from a YAML file into the catalog. A category
// with an existing name replaces it; new names are appended before the
// wildcard. An optional custom_list replaces the default custom list.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read categories file: %w", err)
	}

	var f categoriesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse categories file %s: %w", path, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cat := range f.Categories {
		cat.Name = strings.TrimSpace(cat.Name)
		if cat.Name == "" {
			return fmt.Errorf("categories file %s: category without name", path)
		}
		if idx := c.indexLocked(cat.Name); idx >= 0 {
			c.categories[idx] = cloneCategory(cat)
			continue
		}
		// Keep the wildcard last so menus end with it
		last := len(c.categories) - 1
		if last >= 0 && c.categories[last].Name == AllFiles {
			c.categories = append(c.categories[:last], cloneCategory(cat), c.categories[last])
		} else {
			c.categories = append(c.categories, cloneCategory(cat))
		}
	}
	if f.CustomList != nil {
		c.custom = ParseCustomList(strings.Join(f.CustomList, ","))
	}
	return nil
}

// Names returns category names in menu order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, len(c.categories))
	for i, cat := range c.categories {
		names[i] = cat.Name
	}
	return names
}

// Extensions returns the set for a category and whether it is known.
func (c *Catalog) Extensions(name string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx := c.indexLocked(name)
	if idx < 0 {
		return nil, false
	}
	return cloneExts(c.categories[idx].Extensions), true
}

// Resolve returns the accepted extension set for a scan. Custom mode replaces
// the category entirely. Unknown categories resolve to nil (all files).
func (c *Catalog) Resolve(category string, useCustom bool, custom []string) []string {
	if useCustom {
		if custom == nil {
			custom = c.CustomList()
		}
		// An empty custom list still filters (to nothing), it is not a wildcard
		out := make([]string, 0, len(custom))
		return append(out, custom...)
	}
	exts, _ := c.Extensions(category)
	return exts
}

// CustomList returns the session's custom extension list.
func (c *Catalog) CustomList() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string{}, c.custom...)
}

// SetCustomList replaces the custom list from user input and returns the
// parsed result.
func (c *Catalog) SetCustomList(input string) []string {
	exts := ParseCustomList(input)
	c.mu.Lock()
	c.custom = exts
	c.mu.Unlock()
	return append([]string{}, exts...)
}

// Describe renders an extension set for display.
func Describe(extensions []string) string {
	if extensions == nil {
		return "all files"
	}
	sorted := append([]string{}, extensions...)
	sort.Strings(sorted)
	return strings.Join(sorted, ", ")
}

func (c *Catalog) indexLocked(name string) int {
	for i, cat := range c.categories {
		if cat.Name == name {
			return i
		}
	}
	return -1
}

func cloneCategory(cat Category) Category {
	return Category{Name: cat.Name, Extensions: cloneExts(cat.Extensions)}
}

func cloneExts(exts []string) []string {
	if exts == nil {
		return nil
	}
	return append([]string{}, exts...)
}
