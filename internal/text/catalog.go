// Package text provides localized user-facing strings from embedded YAML
// catalogs. Lookups fall back to en-US and then to the key itself, so a
// missing translation never produces an empty reply.
package text

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFS embed.FS

const fallbackLocale = "en-US"

// Catalog resolves message keys to localized strings.
type Catalog struct {
	locale string
	tables map[string]map[string]string
}

// NewCatalog loads the embedded locale tables and selects the given locale.
// An unknown locale is accepted; every lookup then uses the fallback chain.
func NewCatalog(locale string) (*Catalog, error) {
	if locale == "" {
		locale = fallbackLocale
	}
	tables := make(map[string]map[string]string)

	entries, err := fs.ReadDir(localeFS, "locales")
	if err != nil {
		return nil, fmt.Errorf("read embedded locales: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		data, err := localeFS.ReadFile(path.Join("locales", name))
		if err != nil {
			return nil, fmt.Errorf("read locale %s: %w", name, err)
		}
		table := make(map[string]string)
		if err := yaml.Unmarshal(data, &table); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", name, err)
		}
		tables[strings.TrimSuffix(name, ".yaml")] = table
	}
	if _, ok := tables[fallbackLocale]; !ok {
		return nil, fmt.Errorf("embedded fallback locale %s missing", fallbackLocale)
	}
	return &Catalog{locale: locale, tables: tables}, nil
}

// Lookup returns the localized string for key, formatted with args when any
// are given.
func (c *Catalog) Lookup(key string, args ...any) string {
	template, ok := c.tables[c.locale][key]
	if !ok {
		template, ok = c.tables[fallbackLocale][key]
	}
	if !ok {
		template = key
	}
	if len(args) == 0 {
		return template
	}
	return fmt.Sprintf(template, args...)
}

// Locale returns the active locale tag.
func (c *Catalog) Locale() string {
	return c.locale
}
