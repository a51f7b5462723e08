package config

import (
	"strings"

	"github.com/critters-rs/critters-pack/pkg/types"
)

// Legacy environment variables understood at the entry point
const (
	EnvCargo        = "CARGO"
	EnvNapi         = "NAPI"
	EnvUseArtifacts = "USE_ARTIFACTS"
	EnvSkipTypegen  = "SKIP_TYPEGEN"
)

// Getenv looks up an environment variable; os.Getenv satisfies it
type Getenv func(string) string

// ApplyLegacyEnv folds CARGO and NAPI into cfg. They only apply when the
// corresponding key still holds its default, so config files and
// CRITTERS_PACK_* variables win.
func ApplyLegacyEnv(cfg *types.PackConfig, getenv Getenv) {
	d := Defaults()
	if v := getenv(EnvCargo); v != "" && cfg.Toolchain.Cargo == d.Toolchain.Cargo {
		cfg.Toolchain.Cargo = v
	}
	if v := getenv(EnvNapi); v != "" && cfg.Toolchain.Napi == d.Toolchain.Napi {
		cfg.Toolchain.Napi = v
	}
}

// RequestFromEnv builds the environment half of a BuildRequest:
// USE_ARTIFACTS selects PRESTAGED and SKIP_TYPEGEN skips declaration
// regeneration. CLI flags are applied on top by the caller.
func RequestFromEnv(getenv Getenv) types.BuildRequest {
	req := types.BuildRequest{
		ArtifactMode:                types.ArtifactModeFresh,
		SkipDeclarationRegeneration: Truthy(getenv(EnvSkipTypegen)),
	}
	if Truthy(getenv(EnvUseArtifacts)) {
		req.ArtifactMode = types.ArtifactModePrestaged
	}
	return req
}

// Truthy reports whether an environment value switches a flag on. Empty,
// "0", "false", "no" and "off" are false; anything else is true.
func Truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
