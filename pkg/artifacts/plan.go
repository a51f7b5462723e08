// Package artifacts decides where each distributed file comes from and
// copies it into place.
package artifacts

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

var (
	// ErrMissingSource means a required copy entry matched no file
	ErrMissingSource = errors.New("copy source not found")
	// ErrAmbiguousSource means a binary entry matched more than one file
	ErrAmbiguousSource = errors.New("more than one native binary matches")
)

// Kind classifies a copied file
type Kind string

const (
	KindBinary      Kind = "binary"
	KindDeclaration Kind = "declaration"
	KindTypeFile    Kind = "type"
)

// Layout locates the directories a copy plan reads from and writes to
type Layout struct {
	StagingDir   string
	ArtifactsDir string
	DistDir      string
	PlatformTag  string
	// BinaryName narrows the pre-staged binary search to <name>.<tag>.node
	BinaryName  string
	Declaration string
	BindingsDir string
}

func (l Layout) binaryGlob() string {
	if l.BinaryName == "" {
		return "*"
	}
	return l.BinaryName
}

func (l Layout) declaration() string {
	if l.Declaration == "" {
		return "index.d.ts"
	}
	return l.Declaration
}

func (l Layout) bindingsDir() string {
	if l.BindingsDir == "" {
		return "bindings"
	}
	return strings.Trim(filepath.ToSlash(l.BindingsDir), "/")
}

// CopyEntry copies every file under Root matching Pattern into DestDir.
// Flatten drops the matched file's directories; otherwise the path relative
// to Root is kept.
type CopyEntry struct {
	Root     string `json:"root"`
	Pattern  string `json:"pattern"`
	DestDir  string `json:"destDir"`
	Kind     Kind   `json:"kind"`
	Required bool   `json:"required"`
	Flatten  bool   `json:"flatten"`
}

// CopyPlan is an ordered list of copy entries
type CopyPlan struct {
	Mode    types.ArtifactMode `json:"mode"`
	Entries []CopyEntry        `json:"entries"`
}

// BinarySources returns the roots native binaries are copied from
func (p CopyPlan) BinarySources() []string {
	var roots []string
	for _, e := range p.Entries {
		if e.Kind == KindBinary {
			roots = append(roots, e.Root)
		}
	}
	return roots
}

// Resolve builds the copy plan for mode. FRESH takes the binary from
// staging; PRESTAGED takes it from the artifacts directory and never from
// staging. Declarations always come from staging.
func Resolve(mode types.ArtifactMode, l Layout) CopyPlan {
	plan := CopyPlan{Mode: mode}

	switch mode {
	case types.ArtifactModePrestaged:
		plan.Entries = append(plan.Entries, CopyEntry{
			Root:     l.ArtifactsDir,
			Pattern:  "**/" + l.binaryGlob() + "." + l.PlatformTag + ".node",
			DestDir:  l.DistDir,
			Kind:     KindBinary,
			Required: true,
			Flatten:  true,
		})
	default:
		plan.Mode = types.ArtifactModeFresh
		plan.Entries = append(plan.Entries, CopyEntry{
			Root:     l.StagingDir,
			Pattern:  "*.node",
			DestDir:  l.DistDir,
			Kind:     KindBinary,
			Required: true,
			Flatten:  true,
		})
	}

	plan.Entries = append(plan.Entries,
		CopyEntry{
			Root:     l.StagingDir,
			Pattern:  l.declaration(),
			DestDir:  l.DistDir,
			Kind:     KindDeclaration,
			Required: true,
		},
		CopyEntry{
			Root:    l.StagingDir,
			Pattern: l.bindingsDir() + "/**/*.ts",
			DestDir: l.DistDir,
			Kind:    KindTypeFile,
		},
	)

	return plan
}

// CopiedFile records one executed copy
type CopiedFile struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
	Kind   Kind   `json:"kind"`
}

// Execute runs the plan in order and stops at the first failure
func Execute(plan CopyPlan) ([]CopiedFile, error) {
	var copied []CopiedFile

	for _, e := range plan.Entries {
		matcher, err := utils.NewPatternMatcher([]string{e.Pattern})
		if err != nil {
			return copied, err
		}
		matches, err := matcher.Glob(e.Root)
		if err != nil {
			return copied, fmt.Errorf("scan %s: %w", e.Root, err)
		}

		if len(matches) == 0 && e.Required {
			return copied, fmt.Errorf("%w: %s", ErrMissingSource, path.Join(filepath.ToSlash(e.Root), e.Pattern))
		}
		if e.Kind == KindBinary && len(matches) > 1 {
			return copied, fmt.Errorf("%w %s in %s: %s", ErrAmbiguousSource, e.Pattern, e.Root, strings.Join(matches, ", "))
		}

		for _, rel := range matches {
			src := filepath.Join(e.Root, filepath.FromSlash(rel))
			destRel := filepath.FromSlash(rel)
			if e.Flatten {
				destRel = filepath.Base(destRel)
			}
			dst := filepath.Join(e.DestDir, destRel)

			if err := utils.CopyFile(src, dst); err != nil {
				return copied, fmt.Errorf("copy %s: %w", rel, err)
			}
			copied = append(copied, CopiedFile{Source: src, Dest: dst, Kind: e.Kind})
		}
	}

	return copied, nil
}
