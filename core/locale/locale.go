// Package locale serves reply strings from YAML catalogs, one file per language.
package locale

import (
	"embed"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var embedded embed.FS

// Key names a catalog entry.
type Key string

// Catalog keys.
const (
	Greet                Key = "greet"
	ButtonReport         Key = "button_report"
	ButtonContact        Key = "button_contact"
	ButtonSwitchLanguage Key = "button_switch_language"
	ButtonViewIssue      Key = "button_view_issue"
	StartAck             Key = "start_ack"
	AskMedia             Key = "ask_media"
	ContactAck           Key = "contact_ack"
	AnswerFirst          Key = "answer_first"
	MediaAck             Key = "media_ack"
	MediaOnly            Key = "media_only"
	SkipMedia            Key = "skip_media"
	AskLocation          Key = "ask_location"
	LocationButton       Key = "location_button"
	LocationAck          Key = "location_ack"
	LocationMediaAck     Key = "location_media_ack"
	SkipLocation         Key = "skip_location"
	AskLocationDetail    Key = "ask_location_detail"
	LocationDetailAck    Key = "location_detail_ack"
	AskDesc              Key = "ask_desc"
	DescKeepTyping       Key = "desc_keep_typing"
	DescDoneYet          Key = "desc_done_yet"
	DescMediaAck         Key = "desc_media_ack"
	DescLocationAck      Key = "desc_location_ack"
	Confused             Key = "confused"
	AskCategories        Key = "ask_categories"
	TagsMore             Key = "tags_more"
	Thanks               Key = "thanks"
	MarkerDone           Key = "marker_done"
	MarkerSkip           Key = "marker_skip"
)

// CategoryKey returns the catalog key holding the label of a category.
func CategoryKey(category string) Key {
	return Key("category_" + category)
}

// Languages.
const (
	Thai    = "th"
	English = "en"
)

// Path returns the locale path stored in sessions for lang, e.g. "/?lang=en".
func Path(lang string) string {
	return "/?lang=" + lang
}

// Catalog holds one string table per language.
type Catalog struct {
	tables map[string]map[Key]string
	def    string
}

// Load reads the embedded catalogs and, when dir is set, merges any <lang>.yaml
// found there on top of them.
func Load(dir, defaultLang string) (*Catalog, error) {
	c := &Catalog{tables: make(map[string]map[Key]string), def: defaultLang}
	sub, err := fs.Sub(embedded, "catalog")
	if err != nil {
		return nil, fmt.Errorf("locale: %w", err)
	}
	if err := c.merge(sub); err != nil {
		return nil, err
	}
	if dir != "" {
		if err := c.merge(os.DirFS(dir)); err != nil {
			return nil, err
		}
	}
	if _, ok := c.tables[c.def]; !ok {
		return nil, fmt.Errorf("locale: no catalog for default language %q", c.def)
	}
	return c, nil
}

// MustLoad returns the embedded catalogs and panics on error. Intended for tests.
func MustLoad(defaultLang string) *Catalog {
	c, err := Load("", defaultLang)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) merge(fsys fs.FS) error {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("locale: read catalogs: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return fmt.Errorf("locale: read %s: %w", e.Name(), err)
		}
		var table map[Key]string
		if err := yaml.Unmarshal(data, &table); err != nil {
			return fmt.Errorf("locale: parse %s: %w", e.Name(), err)
		}
		lang := strings.TrimSuffix(e.Name(), ".yaml")
		if c.tables[lang] == nil {
			c.tables[lang] = make(map[Key]string, len(table))
		}
		for k, v := range table {
			c.tables[lang][k] = v
		}
	}
	return nil
}

// Locale resolves a stored locale path to a language. Unknown or empty paths
// fall back to the default language.
func (c *Catalog) Locale(path string) string {
	if path == "" {
		return c.def
	}
	raw := path
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[i+1:]
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return c.def
	}
	lang := strings.ToLower(q.Get("lang"))
	if _, ok := c.tables[lang]; !ok {
		return c.def
	}
	return lang
}

// Translate looks key up for lang, falling back to the default language and
// finally to the key itself. Each {{name}} placeholder is replaced from subs.
func (c *Catalog) Translate(lang string, key Key, subs map[string]string) string {
	text, ok := c.tables[lang][key]
	if !ok {
		text, ok = c.tables[c.def][key]
	}
	if !ok {
		text = string(key)
	}
	for name, val := range subs {
		text = strings.ReplaceAll(text, "{{"+name+"}}", val)
	}
	return text
}

// Locales lists the loaded languages in sorted order.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.tables))
	for lang := range c.tables {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// Default returns the fallback language.
func (c *Catalog) Default() string { return c.def }
