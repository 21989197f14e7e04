package container

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/project"
)

const debconfCommand = "echo set debconf/frontend Noninteractive | debconf-communicate && " +
	"echo set debconf/priority critical | debconf-communicate"

// Descriptor is everything baked into a derived image.
type Descriptor struct {
	Base string
	// Args are the build environment of the unit, available to RUN steps.
	Args map[string]string
	// Env is persisted into the image.
	Env      map[string]string
	Commands []string
}

// NewDescriptor computes the descriptor of cfg. Commands are ordered: PPAs,
// package installation, rust toolchain, then free-form setup.
func NewDescriptor(cfg *project.Config, host arch.Architecture) Descriptor {
	commands := slices.Clone(ppaCommands(cfg))

	if deps := Dependencies(cfg); len(deps) > 0 {
		commands = append(commands,
			debconfCommand,
			"apt-get update && "+installCommand(deps)+" && apt-get clean",
		)
	}
	commands = append(commands, rustCommands(cfg, host)...)
	commands = append(commands, cfg.ImageSetup.Run.Values(false)...)

	return Descriptor{
		Base:     cfg.DockerImage,
		Args:     cfg.Environment(),
		Env:      maps.Clone(cfg.ImageSetup.Env),
		Commands: commands,
	}
}

// Dockerfile renders d. Map entries are sorted so equal descriptors render to
// identical files.
func (d Descriptor) Dockerfile() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s\n", d.Base)
	for _, key := range slices.Sorted(maps.Keys(d.Args)) {
		fmt.Fprintf(&b, "ARG %s=%q\n", key, d.Args[key])
	}
	if len(d.Env) > 0 {
		pairs := make([]string, 0, len(d.Env))
		for _, key := range slices.Sorted(maps.Keys(d.Env)) {
			pairs = append(pairs, fmt.Sprintf("%s=%q", key, d.Env[key]))
		}
		fmt.Fprintf(&b, "ENV %s\n", strings.Join(pairs, " "))
	}
	for _, command := range d.Commands {
		fmt.Fprintf(&b, "RUN %s\n", command)
	}
	return strings.TrimSpace(b.String())
}

// Dependencies returns the packages to install. Target packages are qualified
// with the target architecture unless they name one already.
func Dependencies(cfg *project.Config) []string {
	deps := slices.Clone(cfg.DependenciesHost)
	for _, dep := range cfg.DependenciesTarget {
		if !strings.Contains(dep, ":") {
			dep = dep + ":" + string(cfg.Arch)
		}
		deps = append(deps, dep)
	}
	return deps
}

func ppaCommands(cfg *project.Config) []string {
	commands := make([]string, 0, len(cfg.DependenciesPPA))
	for _, ppa := range cfg.DependenciesPPA {
		commands = append(commands, "add-apt-repository -y "+ppa)
	}
	return commands
}

func installCommand(deps []string) string {
	return "apt-get install -y --force-yes --no-install-recommends " + strings.Join(deps, " ")
}

func rustCommands(cfg *project.Config, host arch.Architecture) []string {
	if cfg.RustChannel == "" {
		return nil
	}
	commands := []string{"rustup default " + cfg.RustChannel}
	if cfg.IsForeignTarget(host) {
		commands = append(commands, "rustup target add "+cfg.ArchRust)
	}
	return commands
}
