package project

import (
	"maps"
	"slices"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/placeholder"
)

// Config is one fully resolved buildable unit: the app or one library.
// It is produced by Resolve and treated as read-only afterwards.
type Config struct {
	// Name is empty for the app and the library name otherwise.
	Name string `yaml:"name,omitempty"`

	MinimumRequired string `yaml:"clickable_minimum_required,omitempty"`

	Arch            arch.Architecture `yaml:"arch"`
	ArchTriplet     string            `yaml:"arch_triplet"`
	ArchRust        string            `yaml:"arch_rust,omitempty"`
	RestrictArch    string            `yaml:"restrict_arch,omitempty"`
	RestrictArchEnv string            `yaml:"restrict_arch_env,omitempty"`
	// BuildArch selects the image and cache directory. It is the host
	// architecture for "all" and may carry a variant suffix such as -nvidia.
	BuildArch string `yaml:"build_arch"`

	Builder   string `yaml:"builder"`
	Framework string `yaml:"framework,omitempty"`
	QtVersion string `yaml:"qt_version,omitempty"`

	RootDir    string `yaml:"root_dir"`
	BuildDir   string `yaml:"build_dir"`
	SrcDir     string `yaml:"src_dir"`
	InstallDir string `yaml:"install_dir"`
	BuildHome  string `yaml:"build_home"`
	AppLibDir  string `yaml:"app_lib_dir,omitempty"`
	AppBinDir  string `yaml:"app_bin_dir,omitempty"`
	AppQmlDir  string `yaml:"app_qml_dir,omitempty"`

	Prebuild  []string          `yaml:"prebuild,omitempty"`
	Build     []string          `yaml:"build,omitempty"`
	Postmake  []string          `yaml:"postmake,omitempty"`
	Postbuild []string          `yaml:"postbuild,omitempty"`
	Launch    string            `yaml:"launch,omitempty"`
	Kill      string            `yaml:"kill,omitempty"`
	Log       string            `yaml:"log,omitempty"`
	Test      string            `yaml:"test,omitempty"`
	Scripts   map[string]string `yaml:"scripts,omitempty"`
	Default   []string          `yaml:"default,omitempty"`

	DependenciesHost   []string `yaml:"dependencies_host,omitempty"`
	DependenciesTarget []string `yaml:"dependencies_target,omitempty"`
	DependenciesPPA    []string `yaml:"dependencies_ppa,omitempty"`

	InstallLib  []string          `yaml:"install_lib,omitempty"`
	InstallBin  []string          `yaml:"install_bin,omitempty"`
	InstallQml  []string          `yaml:"install_qml,omitempty"`
	InstallData map[string]string `yaml:"install_data,omitempty"`
	Ignore      []string          `yaml:"ignore,omitempty"`

	MakeJobs  string   `yaml:"make_jobs"`
	MakeArgs  []string `yaml:"make_args,omitempty"`
	BuildArgs []string `yaml:"build_args,omitempty"`

	Gopath      string `yaml:"gopath,omitempty"`
	CargoHome   string `yaml:"cargo_home,omitempty"`
	RustupHome  string `yaml:"rustup_home,omitempty"`
	RustChannel string `yaml:"rust_channel,omitempty"`

	// DockerImage is the base image, or the user supplied image when
	// CustomImage is set.
	DockerImage string `yaml:"docker_image,omitempty"`
	CustomImage bool   `yaml:"custom_image,omitempty"`
	// KnownImages lists every base image available on this host.
	KnownImages []string          `yaml:"-"`
	ImageSetup  ImageSetup        `yaml:"image_setup,omitempty"`
	EnvVars     map[string]string `yaml:"env_vars,omitempty"`

	AlwaysClean   bool `yaml:"always_clean,omitempty"`
	ContainerMode bool `yaml:"container_mode,omitempty"`
	UseNvidia     bool `yaml:"use_nvidia,omitempty"`
	Interactive   bool `yaml:"interactive"`

	Device DeviceSettings `yaml:"device"`
	// Commands is the command chain this configuration was resolved for.
	Commands []string `yaml:"commands,omitempty"`

	Libraries []*Config `yaml:"libraries,omitempty"`

	Placeholders placeholder.Table `yaml:"-"`
	// extra holds values of generated placeholders, e.g. FOO_LIB_BUILD_DIR.
	extra map[string]string
	// prefixPath is the CMAKE_PREFIX_PATH shared by all units.
	prefixPath string
}

// DeviceSettings are the device related inputs gathered from the global
// file, environment and flags.
type DeviceSettings struct {
	IPv4          string `yaml:"ipv4,omitempty"`
	SSHPort       int    `yaml:"ssh_port,omitempty"`
	SerialNumber  string `yaml:"serial_number,omitempty"`
	DefaultTarget string `yaml:"default_target,omitempty"`
	Arch          string `yaml:"arch,omitempty"`
	SkipUninstall bool   `yaml:"skip_uninstall,omitempty"`
}

// IsLibrary reports whether c describes a library.
func (c *Config) IsLibrary() bool {
	return c.Name != ""
}

// Unit returns the cache scope of c: the library name, or "" for the app.
func (c *Config) Unit() string {
	return c.Name
}

// NeedsCustomImage reports whether dependencies or setup have to be baked
// into a derived image.
func (c *Config) NeedsCustomImage() bool {
	return len(c.DependenciesHost) > 0 ||
		len(c.DependenciesTarget) > 0 ||
		len(c.DependenciesPPA) > 0 ||
		!c.ImageSetup.Empty() ||
		c.RustChannel != ""
}

// IsForeignTarget reports whether c is cross compiled.
func (c *Config) IsForeignTarget(host arch.Architecture) bool {
	return c.BuildArchBase() != string(host)
}

// BuildArchBase strips image variant suffixes from BuildArch.
func (c *Config) BuildArchBase() string {
	base, _, _ := strings.Cut(c.BuildArch, "-")
	return base
}

// Library returns the library named name.
func (c *Config) Library(name string) (*Config, bool) {
	for _, lib := range c.Libraries {
		if lib.Name == name {
			return lib, true
		}
	}
	return nil, false
}

// Environment returns the variables exported to every build subprocess:
// GOPATH, CMAKE_PREFIX_PATH, one variable per placeholder and finally the
// user's env_vars.
func (c *Config) Environment() map[string]string {
	env := map[string]string{}
	if c.Gopath != "" {
		env["GOPATH"] = c.Gopath
	}
	if c.prefixPath != "" {
		env["CMAKE_PREFIX_PATH"] = c.prefixPath
	}

	values := c.values()
	for _, entry := range c.Placeholders {
		if value, ok := text(values[entry.Key]); ok {
			env[entry.Token] = value
		}
	}
	maps.Copy(env, c.EnvVars)
	return env
}

// PlaceholderValue returns the current value of token.
func (c *Config) PlaceholderValue(token string) (string, bool) {
	for _, entry := range c.Placeholders {
		if entry.Token == token {
			return text(c.values()[entry.Key])
		}
	}
	return "", false
}

// values exposes the substitutable keys as a flat map.
func (c *Config) values() map[string]any {
	values := map[string]any{
		"name":         c.Name,
		"arch":         string(c.Arch),
		"arch_triplet": c.ArchTriplet,
		"arch_rust":    c.ArchRust,
		"framework":    c.Framework,
		"qt_version":   c.QtVersion,
		"make_jobs":    c.MakeJobs,
		"root_dir":     c.RootDir,
		"build_dir":    c.BuildDir,
		"src_dir":      c.SrcDir,
		"install_dir":  c.InstallDir,
		"build_home":   c.BuildHome,
		"app_lib_dir":  c.AppLibDir,
		"app_bin_dir":  c.AppBinDir,
		"app_qml_dir":  c.AppQmlDir,
		"gopath":       c.Gopath,
		"cargo_home":   c.CargoHome,
		"rustup_home":  c.RustupHome,
		"scripts":      c.Scripts,
		"build":        c.Build,
		"build_args":   c.BuildArgs,
		"make_args":    c.MakeArgs,
		"postmake":     c.Postmake,
		"postbuild":    c.Postbuild,
		"prebuild":     c.Prebuild,
		"install_lib":  c.InstallLib,
		"install_bin":  c.InstallBin,
		"install_qml":  c.InstallQml,
		"install_data": c.InstallData,
		"env_vars":     c.EnvVars,

		"dependencies_host":   c.DependenciesHost,
		"dependencies_target": c.DependenciesTarget,
		"dependencies_ppa":    c.DependenciesPPA,
	}
	for key, value := range c.extra {
		values[key] = value
	}
	return values
}

// assign writes substituted values back. Only keys that accept placeholders
// are ever written.
func (c *Config) assign(values map[string]any) {
	strs := map[string]*string{
		"root_dir":    &c.RootDir,
		"build_dir":   &c.BuildDir,
		"src_dir":     &c.SrcDir,
		"install_dir": &c.InstallDir,
		"build_home":  &c.BuildHome,
		"app_lib_dir": &c.AppLibDir,
		"app_bin_dir": &c.AppBinDir,
		"app_qml_dir": &c.AppQmlDir,
		"gopath":      &c.Gopath,
		"cargo_home":  &c.CargoHome,
		"rustup_home": &c.RustupHome,
	}
	lists := map[string]*[]string{
		"build":               &c.Build,
		"build_args":          &c.BuildArgs,
		"make_args":           &c.MakeArgs,
		"postmake":            &c.Postmake,
		"postbuild":           &c.Postbuild,
		"prebuild":            &c.Prebuild,
		"install_lib":         &c.InstallLib,
		"install_bin":         &c.InstallBin,
		"install_qml":         &c.InstallQml,
		"dependencies_host":   &c.DependenciesHost,
		"dependencies_target": &c.DependenciesTarget,
		"dependencies_ppa":    &c.DependenciesPPA,
	}
	dicts := map[string]*map[string]string{
		"scripts":      &c.Scripts,
		"install_data": &c.InstallData,
		"env_vars":     &c.EnvVars,
	}

	for key, value := range values {
		switch v := value.(type) {
		case string:
			if ref, ok := strs[key]; ok {
				*ref = v
			}
		case []string:
			if ref, ok := lists[key]; ok {
				*ref = v
			}
		case map[string]string:
			if ref, ok := dicts[key]; ok {
				*ref = v
			}
		}
	}
}

func text(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []string:
		return strings.Join(v, " "), true
	default:
		return "", false
	}
}

func cloneList(values []string) []string {
	if values == nil {
		return nil
	}
	return slices.Clone(values)
}
