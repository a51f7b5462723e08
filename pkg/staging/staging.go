// Package staging owns the transient directory a pipeline run compiles into
// and reads declaration documents from.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

// Default names inside the staging directory
const (
	DefaultDeclaration = "index.d.ts"
	DefaultBindingsDir = "bindings"
)

// Directory is the staging directory of one run
type Directory struct {
	Path        string
	Declaration string
	BindingsDir string
	Logger      logger.Logger
}

// New returns a staging directory rooted at path
func New(path, declaration, bindingsDir string, log logger.Logger) *Directory {
	if declaration == "" {
		declaration = DefaultDeclaration
	}
	if bindingsDir == "" {
		bindingsDir = DefaultBindingsDir
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Directory{Path: path, Declaration: declaration, BindingsDir: bindingsDir, Logger: log}
}

// Create makes sure the directory exists and drops native binaries left
// behind by an earlier run. Declaration documents are kept so a run that
// reuses declarations still finds them.
func (d *Directory) Create() error {
	if d.Path == "" {
		return fmt.Errorf("staging path is empty")
	}
	if err := utils.EnsureDirectory(d.Path); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	stale, err := filepath.Glob(filepath.Join(d.Path, "*.node"))
	if err != nil {
		return err
	}
	for _, f := range stale {
		if err := os.Remove(f); err != nil {
			return fmt.Errorf("failed to remove stale binary: %w", err)
		}
		d.Logger.Debug("Removed stale binary", logger.WithField("file", filepath.Base(f)))
	}
	return nil
}

// Remove deletes the directory. Removing a missing directory is not an error.
func (d *Directory) Remove() error {
	if err := os.RemoveAll(d.Path); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	d.Logger.Debug("Removed staging directory", logger.WithField("path", d.Path))
	return nil
}

// Exists reports whether the directory is present
func (d *Directory) Exists() bool {
	return utils.DirectoryExists(d.Path)
}

// ExportDir is where the binding harness writes type-description files
func (d *Directory) ExportDir() string {
	return filepath.Join(d.Path, d.BindingsDir)
}

// DeclarationPath is the top-level declaration document napi generates
func (d *Directory) DeclarationPath() string {
	return filepath.Join(d.Path, d.Declaration)
}

// Contents lists the files in the directory as sorted slash-separated
// relative paths
func (d *Directory) Contents() ([]string, error) {
	var files []string
	err := filepath.WalkDir(d.Path, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.Path, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
