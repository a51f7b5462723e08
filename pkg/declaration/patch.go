// Package declaration rewrites the generated TypeScript declaration file so
// the addon's constructor accepts a partial options object.
package declaration

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

// Options names the types and parameter involved in the rewrite
type Options struct {
	FullType    string
	Alias       string
	PartialType string
	ImportPath  string
	ParamName   string
}

// DefaultOptions returns the names used for the critters addon
func DefaultOptions() Options {
	return Options{
		FullType:    "CrittersOptions",
		Alias:       "FullCrittersOptions",
		PartialType: "CrittersOptions",
		ImportPath:  "./bindings/CrittersOptions",
		ParamName:   "options",
	}
}

// OptionsFromConfig fills unset config values with the defaults
func OptionsFromConfig(cfg types.DeclarationConfig) Options {
	o := DefaultOptions()
	if cfg.FullType != "" {
		o.FullType = cfg.FullType
	}
	if cfg.Alias != "" {
		o.Alias = cfg.Alias
	}
	if cfg.PartialType != "" {
		o.PartialType = cfg.PartialType
	}
	if cfg.ImportPath != "" {
		o.ImportPath = cfg.ImportPath
	}
	if cfg.ParamName != "" {
		o.ParamName = cfg.ParamName
	}
	return o
}

// ImportStatement is the header line importing the full type under its alias
func (o Options) ImportStatement() string {
	return fmt.Sprintf("import type { %s as %s } from '%s'", o.FullType, o.Alias, o.ImportPath)
}

// AliasDeclaration is the header line declaring the partial type
func (o Options) AliasDeclaration() string {
	return fmt.Sprintf("export type %s = Partial<%s>", o.PartialType, o.Alias)
}

// Parameter is the replacement constructor parameter list
func (o Options) Parameter() string {
	return fmt.Sprintf("%s?: %s", o.ParamName, o.PartialType)
}

var constructorKeyword = []byte("constructor")

// Result is the outcome of a patch. When Rewritten is false Output is the
// input unchanged.
type Result struct {
	Output      []byte
	Rewritten   bool
	HeaderAdded bool
	Signature   string
}

// Patch rewrites the first constructor signature of src to take a single
// optional partial-options parameter and prepends the alias import and
// partial type. Header lines already present are not repeated, so patching
// a patched document is a no-op. A document without a constructor is
// returned byte-for-byte, even when it does not scan.
func Patch(filename string, src []byte, opts Options) (Result, error) {
	doc, err := Parse(filename, src)
	if err != nil {
		if !bytes.Contains(src, constructorKeyword) {
			return Result{Output: src}, nil
		}
		return Result{}, err
	}

	if len(doc.Constructors) == 0 {
		return Result{Output: src}, nil
	}
	ctor := doc.Constructors[0]

	var body bytes.Buffer
	body.Grow(len(src) + 128)
	body.Write(src[:ctor.Open+1])
	body.WriteString(opts.Parameter())
	body.Write(src[ctor.Close:])

	var header bytes.Buffer
	if !doc.HasImport(opts.FullType, opts.Alias) {
		header.WriteString(opts.ImportStatement())
		header.WriteByte('\n')
	}
	if !doc.HasTypeAlias(opts.PartialType) {
		header.WriteString(opts.AliasDeclaration())
		header.WriteByte('\n')
	}

	out := append(header.Bytes(), body.Bytes()...)
	signature := fmt.Sprintf("%s(%s)", src[ctor.Start:ctor.Open], opts.Parameter())

	return Result{
		Output:      out,
		Rewritten:   true,
		HeaderAdded: header.Len() > 0,
		Signature:   signature,
	}, nil
}

// Patcher applies Patch to a declaration file in place
type Patcher struct {
	Options Options
	// Strict turns a missing constructor into ErrNoConstructor instead of a
	// logged warning.
	Strict bool
	Logger logger.Logger
}

// PatchFile reads, patches and rewrites path. The file is only written when
// its content changes.
func (p *Patcher) PatchFile(path string) (Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("read declaration: %w", err)
	}

	res, err := Patch(filepath.Base(path), src, p.Options)
	if err != nil {
		return Result{}, err
	}

	if !res.Rewritten {
		if p.Strict {
			return res, fmt.Errorf("%s: %w", path, ErrNoConstructor)
		}
		if p.Logger != nil {
			p.Logger.Warn("No constructor signature found; declaration left unchanged", logger.WithField("file", path))
		}
		return res, nil
	}

	if !bytes.Equal(res.Output, src) {
		info, err := os.Stat(path)
		if err != nil {
			return Result{}, err
		}
		if err := utils.WriteFileAtomic(path, res.Output, info.Mode().Perm()); err != nil {
			return Result{}, fmt.Errorf("write declaration: %w", err)
		}
	}

	if p.Logger != nil {
		p.Logger.Info("Declaration patched",
			logger.WithField("file", filepath.Base(path)),
			logger.WithField("signature", res.Signature))
	}
	return res, nil
}
