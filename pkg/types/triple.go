package types

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// Triple is a parsed compiler target triple
type Triple struct {
	Raw  string
	Arch string
	Sys  string
	ABI  string
}

var tripleSegment = regexp.MustCompile(`^[a-z0-9_.]+$`)

var cpuToNodeArch = map[string]string{
	"x86_64":      "x64",
	"aarch64":     "arm64",
	"i686":        "ia32",
	"armv7":       "arm",
	"riscv64gc":   "riscv64",
	"powerpc64le": "ppc64",
	"loongarch64": "loong64",
}

var sysToNodePlatform = map[string]string{
	"linux":   "linux",
	"freebsd": "freebsd",
	"darwin":  "darwin",
	"windows": "win32",
}

var goArchToNodeArch = map[string]string{
	"amd64":   "x64",
	"arm64":   "arm64",
	"386":     "ia32",
	"arm":     "arm",
	"riscv64": "riscv64",
	"ppc64le": "ppc64",
	"s390x":   "s390x",
	"loong64": "loong64",
}

// ParseTriple parses a target triple such as x86_64-unknown-linux-gnu.
// Two-part triples carry no vendor; three-part triples carry no ABI.
func ParseTriple(raw string) (Triple, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Triple{}, fmt.Errorf("empty target triple")
	}

	normalized := raw
	if strings.HasSuffix(normalized, "eabi") && !strings.HasSuffix(normalized, "-eabi") {
		normalized = strings.TrimSuffix(normalized, "eabi") + "-eabi"
	}

	parts := strings.Split(normalized, "-")
	for _, p := range parts {
		if !tripleSegment.MatchString(p) {
			return Triple{}, fmt.Errorf("invalid target triple %q", raw)
		}
	}

	t := Triple{Raw: raw, Arch: parts[0]}
	switch len(parts) {
	case 2:
		t.Sys = parts[1]
	case 3:
		t.Sys = parts[2]
	case 4:
		t.Sys = parts[2]
		t.ABI = parts[3]
	default:
		return Triple{}, fmt.Errorf("invalid target triple %q: expected 2 to 4 segments", raw)
	}

	return t, nil
}

// PlatformTag returns the napi platform tag, e.g. linux-x64-gnu or darwin-arm64
func (t Triple) PlatformTag() string {
	platform := t.Sys
	if p, ok := sysToNodePlatform[t.Sys]; ok {
		platform = p
	}
	arch := t.Arch
	if a, ok := cpuToNodeArch[t.Arch]; ok {
		arch = a
	}
	if t.ABI != "" {
		return fmt.Sprintf("%s-%s-%s", platform, arch, t.ABI)
	}
	return fmt.Sprintf("%s-%s", platform, arch)
}

// HostPlatformTag returns the platform tag of the machine running the pipeline
func HostPlatformTag() (string, error) {
	return platformTagFor(runtime.GOOS, runtime.GOARCH)
}

func platformTagFor(goos, goarch string) (string, error) {
	arch, ok := goArchToNodeArch[goarch]
	if !ok {
		return "", fmt.Errorf("unsupported host architecture: %s", goarch)
	}

	switch goos {
	case "linux":
		abi := "gnu"
		if arch == "arm" {
			abi = "gnueabihf"
		}
		return fmt.Sprintf("linux-%s-%s", arch, abi), nil
	case "windows":
		return fmt.Sprintf("win32-%s-msvc", arch), nil
	case "darwin", "freebsd", "android":
		return fmt.Sprintf("%s-%s", goos, arch), nil
	default:
		return "", fmt.Errorf("unsupported host platform: %s", goos)
	}
}
