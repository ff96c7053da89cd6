package msgcat

import (
    "embed"
    "errors"
    "fmt"
    "io/fs"
    "os"
    "path/filepath"
    "sort"
    "strings"
    "sync"
    "text/template"

    yaml "gopkg.in/yaml.v3"
)

const embeddedName = "messages.en.yaml"

//go:embed messages.en.yaml
var defaultFiles embed.FS

// Catalog holds user-facing text keyed by dotted path ("chain.wrong_network").
// Values are text/template sources; missing data keys are errors.
type Catalog struct {
    mu    sync.RWMutex
    data  map[string]string
    cache map[string]*template.Template
}

var (
    defaultOnce sync.Once
    defaultCat  *Catalog
)

// Default returns the embedded catalog without overrides.
func Default() *Catalog {
    defaultOnce.Do(func() {
        c, err := New("")
        if err != nil {
            // embedded file is part of the build; fall back to an empty catalog
            c = &Catalog{data: map[string]string{}, cache: map[string]*template.Template{}}
        }
        defaultCat = c
    })
    return defaultCat
}

// New loads the embedded messages, then YAML files from overrideDir when set.
func New(overrideDir string) (*Catalog, error) {
    c := &Catalog{data: make(map[string]string), cache: make(map[string]*template.Template)}
    raw, err := fs.ReadFile(defaultFiles, embeddedName)
    if err != nil {
        return nil, fmt.Errorf("read embedded messages: %w", err)
    }
    flat, err := parseYAMLToFlat(raw)
    if err != nil { return nil, fmt.Errorf("parse embedded messages: %w", err) }
    c.merge(flat)

    if strings.TrimSpace(overrideDir) != "" {
        if err := c.applyDir(overrideDir); err != nil {
            return nil, err
        }
    }
    return c, nil
}

func (c *Catalog) merge(flat map[string]string) {
    c.mu.Lock()
    for k, v := range flat {
        c.data[k] = v
        delete(c.cache, k)
    }
    c.mu.Unlock()
}

func (c *Catalog) applyDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil {
        return fmt.Errorf("read messages dir: %w", err)
    }
    files := make([]string, 0, len(entries))
    for _, e := range entries {
        if e.IsDir() { continue }
        ext := strings.ToLower(filepath.Ext(e.Name()))
        if ext == ".yaml" || ext == ".yml" { files = append(files, e.Name()) }
    }
    sort.Strings(files)
    // a key may be overridden by one file only
    seen := make(map[string]string)
    for _, name := range files {
        b, err := os.ReadFile(filepath.Join(dir, name))
        if err != nil { return fmt.Errorf("read %s: %w", name, err) }
        flat, err := parseYAMLToFlat(b)
        if err != nil { return fmt.Errorf("parse %s: %w", name, err) }
        for k := range flat {
            if prev, ok := seen[k]; ok {
                return fmt.Errorf("duplicate override key %q in %s and %s", k, prev, name)
            }
            seen[k] = name
        }
        c.merge(flat)
    }
    return nil
}

func parseYAMLToFlat(b []byte) (map[string]string, error) {
    var m map[string]any
    if err := yaml.Unmarshal(b, &m); err != nil {
        return nil, err
    }
    flat := make(map[string]string)
    if err := flattenStrings(m, "", flat); err != nil {
        return nil, err
    }
    return flat, nil
}

func flattenStrings(src any, prefix string, out map[string]string) error {
    switch v := src.(type) {
    case map[string]any:
        for k, vv := range v {
            key := k
            if prefix != "" { key = prefix + "." + k }
            if err := flattenStrings(vv, key, out); err != nil { return err }
        }
        return nil
    case string:
        if prefix == "" { return errors.New("string value without key prefix") }
        out[prefix] = v
        return nil
    case nil:
        return nil
    default:
        return fmt.Errorf("unsupported value at %s: %T", prefix, v)
    }
}

// Has reports whether key exists.
func (c *Catalog) Has(key string) bool {
    c.mu.RLock()
    _, ok := c.data[strings.TrimSpace(key)]
    c.mu.RUnlock()
    return ok
}

// Keys returns every key in sorted order.
func (c *Catalog) Keys() []string {
    c.mu.RLock()
    out := make([]string, 0, len(c.data))
    for k := range c.data {
        out = append(out, k)
    }
    c.mu.RUnlock()
    sort.Strings(out)
    return out
}

func (c *Catalog) template(key string) (*template.Template, error) {
    key = strings.TrimSpace(key)
    c.mu.RLock()
    t, cached := c.cache[key]
    src, ok := c.data[key]
    c.mu.RUnlock()
    if cached {
        return t, nil
    }
    if !ok || strings.TrimSpace(src) == "" {
        return nil, fmt.Errorf("message not found: %s", key)
    }
    t, err := template.New(key).Option("missingkey=error").Parse(src)
    if err != nil { return nil, err }
    c.mu.Lock()
    c.cache[key] = t
    c.mu.Unlock()
    return t, nil
}

// Render executes the message for key with data.
func (c *Catalog) Render(key string, data any) (string, error) {
    t, err := c.template(key)
    if err != nil { return "", err }
    var b strings.Builder
    if err := t.Execute(&b, data); err != nil { return "", err }
    return b.String(), nil
}

// Text renders key and falls back to the key itself on any error.
func (c *Catalog) Text(key string, data any) string {
    s, err := c.Render(key, data)
    if err != nil {
        return key
    }
    return s
}
