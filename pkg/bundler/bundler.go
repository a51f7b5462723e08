// Package bundler produces the ESM distribution with esbuild and places the
// native binary and declarations beside it.
package bundler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/critters-rs/critters-pack/pkg/artifacts"
	"github.com/critters-rs/critters-pack/pkg/declaration"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

// nodeBuiltins are never bundled. Both bare and node: forms are listed.
var nodeBuiltins = []string{
	"assert", "assert/strict", "async_hooks", "buffer", "child_process", "cluster",
	"console", "constants", "crypto", "dgram", "diagnostics_channel", "dns",
	"dns/promises", "domain", "events", "fs", "fs/promises", "http", "http2",
	"https", "inspector", "module", "net", "os", "path", "path/posix",
	"path/win32", "perf_hooks", "process", "punycode", "querystring", "readline",
	"repl", "stream", "stream/promises", "stream/web", "string_decoder", "sys",
	"timers", "timers/promises", "tls", "trace_events", "tty", "url", "util",
	"util/types", "v8", "vm", "wasi", "worker_threads", "zlib",
}

// esmBanner gives the ESM output the CommonJS globals the napi loader uses
const esmBanner = `import { createRequire as __packCreateRequire } from "node:module";
import { fileURLToPath as __packFileURLToPath } from "node:url";
import { dirname as __packDirname } from "node:path";
const require = __packCreateRequire(import.meta.url);
const __filename = __packFileURLToPath(import.meta.url);
const __dirname = __packDirname(__filename);`

// Externals returns the import specifiers left for Node to resolve at load
// time: every built-in and every native binary.
func Externals() []string {
	ext := make([]string, 0, len(nodeBuiltins)*2+1)
	for _, m := range nodeBuiltins {
		ext = append(ext, m, "node:"+m)
	}
	return append(ext, "*.node")
}

// wrapperModule is the name the ESM wrapper binds the entry module to
const wrapperModule = "__packModule"

// Bundler builds the entry module with esbuild
type Bundler struct {
	EntryPoint string
	DistDir    string
	OutFile    string
	Target     string
	Minify     bool
	Sourcemap  bool
	// Declaration is the declaration document whose exported values become
	// named ESM exports. NamedExports, when set, is used instead.
	Declaration  string
	NamedExports []string
	Logger       logger.Logger
}

// NewBundler creates a bundler from config. entry is the JavaScript entry
// module; relative config paths resolve against root.
func NewBundler(root, entry, distDir string, cfg types.BundleConfig, log logger.Logger) *Bundler {
	out := cfg.OutFile
	if out == "" {
		out = "index.mjs"
	}
	return &Bundler{
		EntryPoint: utils.ResolvePath(root, entry),
		DistDir:    utils.ResolvePath(root, distDir),
		OutFile:    out,
		Target:     cfg.Target,
		Minify:     cfg.Minify,
		Sourcemap:  cfg.Sourcemap,
		Logger:     log,
	}
}

func (b *Bundler) outPath() string {
	if filepath.IsAbs(b.OutFile) {
		return b.OutFile
	}
	return filepath.Join(b.DistDir, b.OutFile)
}

// WrapperSource is the ESM module bundled in place of the entry. It
// re-exports the entry's module.exports as the default export and each of
// names as a named export.
func WrapperSource(entry string, names []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "import %s from %q;\n", wrapperModule, "./"+filepath.ToSlash(filepath.Base(entry)))
	fmt.Fprintf(&sb, "export default %s;\n", wrapperModule)
	if len(names) > 0 {
		fmt.Fprintf(&sb, "export const { %s } = %s;\n", strings.Join(names, ", "), wrapperModule)
	}
	return sb.String()
}

// namedExports returns the names to re-export, skipping ones that would
// clash with the wrapper's own bindings
func (b *Bundler) namedExports() []string {
	names := b.NamedExports
	if len(names) == 0 && b.Declaration != "" {
		src, err := os.ReadFile(b.Declaration)
		if err != nil {
			if b.Logger != nil && !os.IsNotExist(err) {
				b.Logger.Warn("Failed to read declaration for named exports", logger.WithField("error", err))
			}
			return nil
		}
		doc, err := declaration.Parse(filepath.Base(b.Declaration), src)
		if err != nil {
			if b.Logger != nil {
				b.Logger.Warn("Declaration did not parse; only the default export is emitted", logger.WithField("error", err))
			}
			return nil
		}
		names = doc.Values
	}

	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != "default" && n != wrapperModule {
			out = append(out, n)
		}
	}
	return out
}

// Options returns the esbuild options used for the entry module
func (b *Bundler) Options() api.BuildOptions {
	opts := api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   WrapperSource(b.EntryPoint, b.namedExports()),
			ResolveDir: filepath.Dir(b.EntryPoint),
			Sourcefile: "critters-pack-entry.mjs",
			Loader:     api.LoaderJS,
		},
		AbsWorkingDir: filepath.Dir(b.EntryPoint),
		Bundle:        true,
		Format:        api.FormatESModule,
		Platform:      api.PlatformNode,
		Outfile:       b.outPath(),
		External:      Externals(),
		Banner:        map[string]string{"js": esmBanner},
		Metafile:      true,
		Write:         true,
		LogLevel:      api.LogLevelSilent,
	}

	if version, ok := strings.CutPrefix(b.Target, "node"); ok && version != "" {
		opts.Engines = []api.Engine{{Name: api.EngineNode, Version: version}}
	} else {
		opts.Target = api.ESNext
	}
	if b.Minify {
		opts.MinifyWhitespace = true
		opts.MinifySyntax = true
		opts.MinifyIdentifiers = true
	}
	if b.Sourcemap {
		opts.Sourcemap = api.SourceMapLinked
	}
	return opts
}

// Bundle clears the output directory, builds the entry module and executes
// plan to place the native binary and declarations beside it.
func (b *Bundler) Bundle(ctx context.Context, plan artifacts.CopyPlan) (*types.DistributionBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := utils.EmptyDirectory(b.DistDir); err != nil {
		return nil, &BundleError{Stage: StageCopy, Err: fmt.Errorf("clear %s: %w", b.DistDir, err)}
	}

	result := api.Build(b.Options())
	if len(result.Warnings) > 0 && b.Logger != nil {
		for _, w := range api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
			b.Logger.Debug(strings.TrimSpace(w))
		}
	}
	if len(result.Errors) > 0 {
		return nil, &BundleError{
			Stage:    StageResolve,
			Messages: api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage}),
			Err:      ErrUnresolved,
		}
	}

	meta, err := ParseMetafile(result.Metafile)
	if err != nil {
		return nil, &BundleError{Stage: StageResolve, Err: err}
	}
	if inlined := meta.InlinedNative(); len(inlined) > 0 {
		return nil, &BundleError{Stage: StageResolve, Err: fmt.Errorf("%w: %s", ErrNativeInlined, strings.Join(inlined, ", "))}
	}
	if b.Logger != nil {
		b.Logger.Debug("Entry module built",
			logger.WithField("cjs_modules", meta.CommonJSInputs()),
			logger.WithField("externals", strings.Join(meta.ExternalImports(), ",")))
	}

	copied, err := artifacts.Execute(plan)
	if err != nil {
		return nil, &BundleError{Stage: StageCopy, Err: err}
	}

	bundle, err := b.describe(copied)
	if err != nil {
		return nil, &BundleError{Stage: StageCopy, Err: err}
	}
	bundle.Exports = meta.Exports()

	if b.Logger != nil {
		b.Logger.Success("Bundle written",
			logger.WithField("dir", bundle.Dir),
			logger.WithField("binary", filepath.Base(bundle.NativeBinary)))
	}
	return bundle, nil
}

// describe checks the output holds one entry module, one native binary and
// one top-level declaration file.
func (b *Bundler) describe(copied []artifacts.CopiedFile) (*types.DistributionBundle, error) {
	bundle := &types.DistributionBundle{Dir: b.DistDir, EntryModule: b.outPath()}

	var binaries, declarations int
	for _, c := range copied {
		switch c.Kind {
		case artifacts.KindBinary:
			binaries++
			bundle.NativeBinary = c.Dest
		case artifacts.KindDeclaration:
			declarations++
			bundle.Declaration = c.Dest
		case artifacts.KindTypeFile:
			bundle.TypeFiles = append(bundle.TypeFiles, c.Dest)
		}
	}

	if !utils.FileExists(bundle.EntryModule) {
		return nil, fmt.Errorf("%w: entry module %s missing", ErrIncompleteBundle, bundle.EntryModule)
	}
	if binaries != 1 {
		return nil, fmt.Errorf("%w: expected one native binary, got %d", ErrIncompleteBundle, binaries)
	}
	if declarations != 1 {
		return nil, fmt.Errorf("%w: expected one declaration file, got %d", ErrIncompleteBundle, declarations)
	}
	return bundle, nil
}
