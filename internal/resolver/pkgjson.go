package resolver

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// packageJSON holds the string-valued fields of a package.json.
// Object-valued fields (e.g. the "browser" map form) are ignored.
type packageJSON struct {
	fields map[string]string
}

var emptyPackage = &packageJSON{}

func (p *packageJSON) field(name string) string {
	if p == nil || p.fields == nil {
		return ""
	}
	return p.fields[name]
}

// readPackage loads dir/package.json. A missing or malformed file yields an
// empty package so that the index fallback still applies.
func (c *Cache) readPackage(dir string) *packageJSON {
	if p, ok := c.packages.Get(dir); ok {
		return p
	}
	p := emptyPackage
	path := filepath.Join(dir, "package.json")
	if c.kind(path) == kindFile {
		if data, err := os.ReadFile(path); err == nil {
			p = parsePackage(data)
		}
	}
	c.packages.Add(dir, p)
	return p
}

func parsePackage(data []byte) *packageJSON {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return emptyPackage
	}
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		var s string
		if json.Unmarshal(v, &s) == nil && s != "" {
			fields[k] = s
		}
	}
	return &packageJSON{fields: fields}
}
