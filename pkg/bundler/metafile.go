package bundler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Metafile is the subset of esbuild's metafile JSON the bundler inspects
type Metafile struct {
	Inputs  map[string]MetafileInput  `json:"inputs"`
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileInput is one module pulled into the graph
type MetafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []MetafileImport `json:"imports"`
	Format  string           `json:"format,omitempty"`
}

// MetafileImport is one import edge
type MetafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external,omitempty"`
	Original string `json:"original,omitempty"`
}

// MetafileOutput is one emitted file
type MetafileOutput struct {
	Bytes      int              `json:"bytes"`
	Imports    []MetafileImport `json:"imports"`
	Exports    []string         `json:"exports"`
	EntryPoint string           `json:"entryPoint,omitempty"`
}

// ParseMetafile decodes esbuild's metafile JSON
func ParseMetafile(data string) (*Metafile, error) {
	var m Metafile
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode metafile: %w", err)
	}
	return &m, nil
}

// InlinedNative lists inputs that are native binaries. Any entry means the
// binary was bundled rather than left external.
func (m *Metafile) InlinedNative() []string {
	var found []string
	for path := range m.Inputs {
		if strings.HasSuffix(path, ".node") {
			found = append(found, path)
		}
	}
	sort.Strings(found)
	return found
}

// ExternalImports lists the distinct external specifiers of all outputs
func (m *Metafile) ExternalImports() []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range m.Outputs {
		for _, imp := range o.Imports {
			if imp.External && !seen[imp.Path] {
				seen[imp.Path] = true
				out = append(out, imp.Path)
			}
		}
	}
	sort.Strings(out)
	return out
}

// CommonJSInputs counts the inputs esbuild wrapped with its CommonJS shim
func (m *Metafile) CommonJSInputs() int {
	n := 0
	for _, in := range m.Inputs {
		if in.Format == "cjs" {
			n++
		}
	}
	return n
}

// Exports lists the distinct export names of all outputs
func (m *Metafile) Exports() []string {
	seen := make(map[string]bool)
	var out []string
	for _, o := range m.Outputs {
		for _, e := range o.Exports {
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	sort.Strings(out)
	return out
}
