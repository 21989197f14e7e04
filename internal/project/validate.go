package project

import (
	"path/filepath"
	"slices"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/version"
)

// validate rejects configurations that cannot be built. Problems that only
// affect some commands are checked for those commands only.
func (r *resolver) validate(cfg *Config) error {
	if isBuild(cfg.Commands) && filepath.Clean(r.in.Root) == filepath.Clean(r.in.Home) {
		return clickerr.Config("building from your home directory is not supported").
			WithHint("run clickable from the project directory")
	}
	if err := checkPaths(cfg); err != nil {
		return err
	}
	if err := r.checkMinimumVersion(cfg); err != nil {
		return err
	}
	if err := r.checkArch(cfg); err != nil {
		return err
	}
	if isAppBuild(cfg.Commands) {
		if err := checkBuilder(cfg); err != nil {
			return err
		}
	}
	r.checkImage(cfg)
	return r.checkDesktop(cfg)
}

// checkPaths keeps build output out of the sources it is built from.
func checkPaths(cfg *Config) error {
	build := filepath.Clean(cfg.BuildDir)
	root := filepath.Clean(cfg.RootDir)
	src := filepath.Clean(cfg.SrcDir)

	switch {
	case build == root:
		return unitError(cfg, "build_dir", "build directory must not be the root directory")
	case build == src:
		return unitError(cfg, "build_dir", "build directory must not be the source directory")
	case within(root, build):
		return unitError(cfg, "build_dir", "root directory %q must not be inside the build directory", root)
	case within(src, build):
		return unitError(cfg, "build_dir", "source directory %q must not be inside the build directory", src)
	}
	return nil
}

// within reports whether path lies below dir.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func unitError(cfg *Config, key, format string, args ...any) error {
	if cfg.IsLibrary() {
		return libError(cfg.Name, key, format, args...)
	}
	return clickerr.ConfigKey(key, format, args...)
}

func (r *resolver) checkMinimumVersion(cfg *Config) error {
	if cfg.MinimumRequired == "" {
		return nil
	}
	required, err := version.Parse(cfg.MinimumRequired)
	if err != nil {
		return clickerr.ConfigKey("clickable_minimum_required", "%q is not a valid version", cfg.MinimumRequired)
	}
	current, err := version.Parse(version.Current)
	if err != nil {
		return clickerr.Env("", "running clickable has an invalid version %q", version.Current)
	}
	if current.LessThan(required) {
		return clickerr.ConfigKey("clickable_minimum_required", "this project requires clickable %s or newer, this is %s", required, current).
			WithHint("update clickable to build this project")
	}
	if len(required) > len(current) {
		r.logger.Warn("clickable_minimum_required has more components than the clickable version, ignoring the extra ones", "required", required.String())
	}
	return nil
}

func (r *resolver) checkArch(cfg *Config) error {
	if IsArchAgnostic(cfg.Builder) {
		if cfg.Arch != arch.All {
			return clickerr.ConfigKey("arch", "the %q builder needs architecture %q, but %q was requested", cfg.Builder, arch.All, cfg.Arch)
		}
		if cfg.RestrictArch != "" && cfg.RestrictArch != string(arch.All) {
			return clickerr.ConfigKey("restrict_arch", "the %q builder is architecture agnostic, restrict_arch must be %q", cfg.Builder, arch.All)
		}
	}

	if isDesktop(cfg.Commands) && cfg.Arch != r.host && cfg.Arch != arch.All {
		return clickerr.ConfigKey("arch", "desktop mode needs the host architecture %q, not %q", r.host, cfg.Arch)
	}

	if cfg.RestrictArch != "" && arch.Normalize(cfg.RestrictArch) != cfg.Arch {
		return clickerr.ConfigKey("restrict_arch", "project is restricted to %q, but %q was requested", cfg.RestrictArch, cfg.Arch)
	}
	if isBuild(cfg.Commands) && cfg.RestrictArchEnv != "" && cfg.Arch != arch.All &&
		arch.Normalize(cfg.RestrictArchEnv) != cfg.Arch {
		return clickerr.ConfigKey("arch", "environment restricts builds to %q, but %q was requested", cfg.RestrictArchEnv, cfg.Arch)
	}

	if cfg.Arch == arch.All && (len(cfg.InstallLib) > 0 || len(cfg.InstallBin) > 0 || len(cfg.InstallQml) > 0) {
		r.logger.Warn(`install_lib, install_bin and install_qml are set but arch is "all", they probably belong to a specific architecture`)
	}
	return nil
}

func checkBuilder(cfg *Config) error {
	switch {
	case cfg.Builder == "":
		return clickerr.ConfigKey("builder", "the project config is missing a builder").
			WithHint("set builder in clickable.yaml, e.g. cmake, qmake or custom")
	case !slices.Contains(Builders, cfg.Builder):
		return clickerr.ConfigKey("builder", "%q is not a valid builder (%s)", cfg.Builder, strings.Join(Builders, ", "))
	case cfg.Builder == BuilderCustom && len(cfg.Build) == 0:
		return clickerr.ConfigKey("build", `the "custom" builder needs a build command`)
	case cfg.Builder == BuilderGo && cfg.Gopath == "":
		return clickerr.ConfigKey("gopath", `the "go" builder needs a GOPATH`).
			WithHint("set gopath in clickable.yaml or export GOPATH")
	case cfg.Builder == BuilderRust && cfg.CargoHome == "":
		return clickerr.ConfigKey("cargo_home", `the "rust" builder needs cargo_home`)
	}
	return nil
}

func (r *resolver) checkImage(cfg *Config) {
	if !cfg.CustomImage {
		return
	}
	if len(cfg.DependenciesHost) > 0 || len(cfg.DependenciesTarget) > 0 || len(cfg.DependenciesPPA) > 0 {
		r.logger.Warn("dependencies are ignored when using a custom docker image", "image", cfg.DockerImage)
	}
	if !cfg.ImageSetup.Empty() {
		r.logger.Warn("image_setup is ignored when using a custom docker image", "image", cfg.DockerImage)
	}
}

func (r *resolver) checkDesktop(cfg *Config) error {
	if r.forceNvidia && r.avoidNvidia {
		return clickerr.Config("nvidia was both requested and disabled").
			WithHint("pass only one of --nvidia and --no-nvidia")
	}
	if cfg.ContainerMode && slices.Contains(cfg.Commands, "desktop") {
		return clickerr.Config("desktop mode is not supported in container mode")
	}
	return nil
}
