package cli

import (
	"errors"

	"github.com/critters-rs/critters-pack/pkg/bindings"
	"github.com/critters-rs/critters-pack/pkg/bundler"
	"github.com/critters-rs/critters-pack/pkg/config"
	"github.com/critters-rs/critters-pack/pkg/declaration"
	"github.com/critters-rs/critters-pack/pkg/pipeline"
	"github.com/critters-rs/critters-pack/pkg/toolchain"
	"github.com/critters-rs/critters-pack/pkg/types"
)

// Exit codes returned by the critters-pack CLI
const (
	// ExitSuccess indicates the command completed successfully
	ExitSuccess = 0
	// ExitFailure covers every error without a more specific code
	ExitFailure = 1
	// ExitConfigError indicates an unreadable or invalid configuration
	ExitConfigError = 2
	// ExitToolchainError indicates the native compile failed
	ExitToolchainError = 3
	// ExitRegenerationError indicates type-description regeneration failed
	ExitRegenerationError = 4
	// ExitDeclarationError indicates the declaration could not be patched
	ExitDeclarationError = 5
	// ExitBundleError indicates the distribution bundle could not be built
	ExitBundleError = 6
)

// ExitCode maps an error to the process exit code
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		cfgErr    *config.ConfigError
		tcErr     *toolchain.ToolchainError
		regenErr  *bindings.RegenerationError
		syntaxErr *declaration.SyntaxError
		bundleErr *bundler.BundleError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.As(err, &tcErr):
		return ExitToolchainError
	case errors.As(err, &regenErr):
		return ExitRegenerationError
	case errors.As(err, &syntaxErr),
		errors.Is(err, declaration.ErrNoConstructor),
		errors.Is(err, declaration.ErrUnbalancedParameters):
		return ExitDeclarationError
	case errors.As(err, &bundleErr):
		return ExitBundleError
	}

	if state, ok := pipeline.FailedStage(err); ok {
		switch state {
		case types.StateCompiling:
			return ExitToolchainError
		case types.StateRegeneratingTypes:
			return ExitRegenerationError
		case types.StatePatching:
			return ExitDeclarationError
		case types.StateBundling:
			return ExitBundleError
		}
	}
	return ExitFailure
}
