package project

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
)

// DefaultQtVersion is used when a project does not name one.
const DefaultQtVersion = "5.12"

var qtFrameworks = map[string]string{
	"5.9":  "ubuntu-sdk-16.04.5",
	"5.12": "ubuntu-sdk-20.04",
}

// imageFamily maps a framework to the Ubuntu release of its images.
func imageFamily(framework string) string {
	switch {
	case strings.HasPrefix(framework, "ubuntu-sdk-20.04"):
		return "20.04"
	default:
		return "16.04"
	}
}

// FrameworkBase returns the Ubuntu release the framework of c targets,
// 16.04 or 20.04.
func (c *Config) FrameworkBase() string {
	return imageFamily(c.Framework)
}

type imageKey struct {
	family    string
	buildArch string
}

// images lists the base images per host architecture.
var images = map[arch.Architecture]map[imageKey]string{
	arch.AMD64: {
		{"16.04", "armhf"}:        "clickable/amd64-16.04-armhf",
		{"16.04", "arm64"}:        "clickable/amd64-16.04-arm64",
		{"16.04", "amd64"}:        "clickable/amd64-16.04-amd64",
		{"16.04", "amd64-nvidia"}: "clickable/amd64-16.04-amd64-nvidia",
		{"20.04", "armhf"}:        "clickable/amd64-20.04-armhf",
		{"20.04", "arm64"}:        "clickable/amd64-20.04-arm64",
		{"20.04", "amd64"}:        "clickable/amd64-20.04-amd64",
		{"20.04", "amd64-nvidia"}: "clickable/amd64-20.04-amd64-nvidia",
	},
	arch.ARM64: {
		{"16.04", "arm64"}: "clickable/arm64-16.04-arm64",
		{"20.04", "arm64"}: "clickable/arm64-20.04-arm64",
	},
}

// BaseImages returns every base image known for host, sorted.
func BaseImages(host arch.Architecture) []string {
	var out []string
	for _, name := range images[host] {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// LookupImage returns the base image for a framework and build architecture.
func LookupImage(host arch.Architecture, framework, buildArch string) (string, error) {
	table, ok := images[host]
	if !ok {
		return "", clickerr.Env("", "clickable currently does not have images for your host architecture %q", host)
	}
	family := imageFamily(framework)
	name, ok := table[imageKey{family: family, buildArch: buildArch}]
	if !ok {
		return "", clickerr.Config("there is currently no image for %s/%s", family, buildArch)
	}
	return name, nil
}

var imageCommands = []string{"build", "build-libs", "test", "test-libs", "desktop", "run", "update-images", "clean-images"}

func needsImage(commands []string) bool {
	return slices.ContainsFunc(commands, func(c string) bool { return slices.Contains(imageCommands, c) })
}

// resolveImage selects the base image for cfg, or keeps the user supplied
// image.
func (r *resolver) resolveImage(cfg *Config) error {
	cfg.KnownImages = BaseImages(r.host)
	r.forceNvidia = cfg.UseNvidia

	if r.customImage != "" {
		cfg.DockerImage = r.customImage
		cfg.CustomImage = true
		return nil
	}
	if cfg.ContainerMode || !needsImage(cfg.Commands) {
		return nil
	}

	if !isDesktop(cfg.Commands) || r.avoidNvidia {
		cfg.UseNvidia = false
	}
	if cfg.UseNvidia && !strings.HasSuffix(cfg.BuildArch, "-nvidia") {
		cfg.BuildArch = fmt.Sprintf("%s-nvidia", cfg.BuildArch)
	}

	name, err := LookupImage(r.host, cfg.Framework, cfg.BuildArch)
	if err != nil {
		return err
	}
	cfg.DockerImage = name
	return nil
}
