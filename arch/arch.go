package arch

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Architecture defines the set of values accepted for click packages.
type Architecture string

const (
	ARMHF Architecture = "armhf"
	ARM64 Architecture = "arm64"
	AMD64 Architecture = "amd64"
	// All marks architecture independent packages.
	All Architecture = "all"

	// Detect is the sentinel asking the resolver to pick an architecture.
	Detect Architecture = "detect"
)

var triplets = map[Architecture]string{
	ARMHF: "arm-linux-gnueabihf",
	ARM64: "aarch64-linux-gnu",
	AMD64: "x86_64-linux-gnu",
	All:   "all",
}

var rustTargets = map[Architecture]string{
	ARMHF: "armv7-unknown-linux-gnueabihf",
	ARM64: "aarch64-unknown-linux-gnu",
	AMD64: "x86_64-unknown-linux-gnu",
}

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{
		ARMHF,
		ARM64,
		AMD64,
		All,
	}
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// Triplet returns the compiler target triplet, e.g. arm-linux-gnueabihf.
func (a Architecture) Triplet() (string, error) {
	triplet, ok := triplets[a]
	if !ok {
		return "", fmt.Errorf("there is currently no support for architecture %q", a)
	}
	return triplet, nil
}

// RustTarget returns the rustup target for a concrete architecture.
func (a Architecture) RustTarget() string {
	return rustTargets[a]
}

// Parse returns the canonical Architecture for the provided string or an error if unsupported.
func Parse(value string) (Architecture, error) {
	if arch := Normalize(value); arch != "" {
		return arch, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// Normalize maps a possibly ambiguous string into a canonical Architecture. Returns ""
// when the string cannot be normalized.
func Normalize(value string) Architecture {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case string(AMD64), "x86_64", "x86-64":
		return AMD64
	case string(ARM64), "aarch64":
		return ARM64
	case string(ARMHF), "armv7l", "armv7", "arm":
		return ARMHF
	case string(All):
		return All
	default:
		return ""
	}
}

// FromMachine maps a kernel machine name (uname -m) to an Architecture.
func FromMachine(machine string) (Architecture, error) {
	switch strings.TrimSpace(machine) {
	case "x86_64":
		return AMD64, nil
	case "aarch64":
		return ARM64, nil
	case "armv7l":
		return ARMHF, nil
	default:
		return "", fmt.Errorf("no support for host architecture %q", machine)
	}
}

// Host reports the architecture of the running kernel.
func Host() (Architecture, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return FromMachine(unix.ByteSliceToString(uts.Machine[:]))
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}
