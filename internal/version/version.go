package version

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Current is the orchestrator version, overridden at link time with
// -ldflags "-X github.com/cochaviz/clickable/internal/version.Current=...".
var Current = "7.14.0"

// ContainerMinimum is the lowest image_version label accepted on base images.
const ContainerMinimum = 11

var dotted = regexp.MustCompile(`^\d+(\.\d+)*$`)

// Version is a dotted list of integers of arbitrary length.
type Version []int

func (v Version) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// Parse parses a version string in the format "X[.Y[.Z...]]".
func Parse(versionStr string) (Version, error) {
	versionStr = strings.TrimSpace(versionStr)
	if !dotted.MatchString(versionStr) {
		return nil, fmt.Errorf("invalid version format: %q", versionStr)
	}

	parts := strings.Split(versionStr, ".")
	out := make(Version, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid version component %q: %w", part, err)
		}
		out[i] = n
	}
	return out, nil
}

// LessThan compares component-wise up to the shorter length. Components
// beyond the shorter version are ignored.
func (v Version) LessThan(other Version) bool {
	for i := 0; i < len(v) && i < len(other); i++ {
		if v[i] != other[i] {
			return v[i] < other[i]
		}
	}
	return false
}
