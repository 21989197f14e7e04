package project

import (
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/logging"
	"github.com/cochaviz/clickable/internal/placeholder"
)

// Inputs are the five layers Resolve merges plus the host facts it needs.
// Resolve reads nothing from the process environment; callers pass it in.
type Inputs struct {
	// Root is the directory the command runs in.
	Root string
	Home string

	// ConfigPath selects the project file explicitly.
	ConfigPath string
	// GlobalPath is the user level config file; GlobalExplicit makes a
	// missing file an error.
	GlobalPath     string
	GlobalExplicit bool

	Env   map[string]string
	Flags Flags

	// Commands is the chain being executed. Empty means the project default.
	Commands []string
	// DeviceArch is the architecture of a device detected earlier, if any.
	DeviceArch string

	HostArch arch.Architecture
	CPUs     int
	Logger   *slog.Logger
}

// Flags are the command line overrides.
type Flags struct {
	Arch           string
	DockerImage    string
	SerialNumber   string
	SSH            string
	SSHPort        int
	Target         string
	ContainerMode  bool
	Nvidia         bool
	NoNvidia       bool
	NonInteractive bool
	AlwaysClean    bool
}

type resolver struct {
	in     Inputs
	logger *slog.Logger
	host   arch.Architecture

	explicitArch string
	makeJobsSet  bool
	avoidNvidia  bool
	forceNvidia  bool
	customImage  string
	table        placeholder.Table
}

// Resolve builds the configuration of the app and its libraries. On any
// error no configuration is returned.
func Resolve(in Inputs) (*Config, error) {
	r := &resolver{
		in:     in,
		logger: logging.Ensure(in.Logger).With("component", "project"),
		host:   in.HostArch,
		table:  appPlaceholders,
	}
	if r.host == "" {
		host, err := arch.Host()
		if err != nil {
			return nil, clickerr.Env("clickable supports amd64, arm64 and armhf hosts", "%v", err)
		}
		r.host = host
	}
	if r.in.Root == "" {
		return nil, clickerr.Config("project root is required")
	}
	if r.in.CPUs <= 0 {
		r.in.CPUs = runtime.NumCPU()
	}
	return r.resolve()
}

func (r *resolver) resolve() (*Config, error) {
	file, path, err := LoadProjectFile(r.in.Root, r.in.ConfigPath)
	if err != nil {
		return nil, err
	}
	if path != "" {
		r.logger.Debug("loaded project config", "path", path)
	}

	global, err := LoadGlobalFile(r.in.GlobalPath, r.in.GlobalExplicit)
	if err != nil {
		return nil, err
	}

	envFile, err := ReadEnvFile(r.in.Root)
	if err != nil {
		return nil, err
	}
	env := MergeEnv(envFile, r.in.Env)

	cfg := r.defaults()
	if err := r.applyFile(cfg, file); err != nil {
		return nil, err
	}
	r.applyGlobal(cfg, global, file)
	if err := r.applyEnv(cfg, env); err != nil {
		return nil, err
	}
	r.applyFlags(cfg)

	r.resolveCommands(cfg)

	if err := r.resolveArch(cfg, global); err != nil {
		return nil, err
	}
	if err := r.deriveDefaults(cfg); err != nil {
		return nil, err
	}
	if err := r.resolveImage(cfg); err != nil {
		return nil, err
	}
	if err := r.resolveLibraries(cfg, file.Libraries); err != nil {
		return nil, err
	}

	r.substitute(cfg)

	if err := r.validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *resolver) defaults() *Config {
	home := r.in.Home
	return &Config{
		RootDir:     r.in.Root,
		BuildDir:    "${ROOT}/build/${ARCH_TRIPLET}/app",
		BuildHome:   "${BUILD_DIR}/.clickable/home",
		SrcDir:      "${ROOT}",
		InstallDir:  "${BUILD_DIR}/install",
		AppLibDir:   "${INSTALL_DIR}/lib/${ARCH_TRIPLET}",
		AppBinDir:   "${INSTALL_DIR}/lib/${ARCH_TRIPLET}/bin",
		AppQmlDir:   "${INSTALL_DIR}/lib/${ARCH_TRIPLET}",
		CargoHome:   filepath.Join(home, ".clickable", "cargo"),
		RustupHome:  filepath.Join(home, ".clickable", "rustup"),
		Test:        "qmltestrunner",
		Default:     []string{"build", "install", "launch"},
		QtVersion:   DefaultQtVersion,
		Scripts:     map[string]string{},
		InstallData: map[string]string{},
		EnvVars:     map[string]string{},
		Interactive: true,
	}
}

func (r *resolver) applyFile(cfg *Config, file *File) error {
	cfg.MinimumRequired = file.MinimumRequired
	setString(&cfg.RestrictArch, file.RestrictArch)
	if cfg.RestrictArch == "host" {
		cfg.RestrictArch = string(r.host)
	}
	setString(&cfg.Builder, file.Builder)
	setString(&cfg.Launch, file.Launch)
	setString(&cfg.Kill, file.Kill)
	setString(&cfg.Log, file.Log)
	setString(&cfg.Test, file.Test)
	setString(&cfg.BuildDir, file.BuildDir)
	setString(&cfg.BuildHome, file.BuildHome)
	setString(&cfg.SrcDir, file.SrcDir)
	setString(&cfg.InstallDir, file.InstallDir)
	setString(&cfg.AppLibDir, file.AppLibDir)
	setString(&cfg.AppBinDir, file.AppBinDir)
	setString(&cfg.AppQmlDir, file.AppQmlDir)
	setString(&cfg.Gopath, file.Gopath)
	setString(&cfg.CargoHome, expandHome(file.CargoHome, r.in.Home))
	setString(&cfg.RustupHome, expandHome(file.RustupHome, r.in.Home))
	setString(&cfg.RustChannel, file.RustChannel)
	setString(&cfg.QtVersion, file.QtVersion)
	setString(&cfg.Framework, file.Framework)
	if file.RootDir != "" {
		cfg.RootDir = placeholder.Absolute(expandHome(file.RootDir, r.in.Home), r.in.Root)
	}
	if file.DockerImage != "" {
		r.customImage = file.DockerImage
	}

	// Single-entry lists keep shell commands intact.
	setList(&cfg.Prebuild, file.Prebuild, false)
	setList(&cfg.Build, file.Build, false)
	setList(&cfg.Postmake, file.Postmake, false)
	setList(&cfg.Postbuild, file.Postbuild, false)

	setList(&cfg.Default, file.Default, true)
	setList(&cfg.DependenciesHost, file.DependenciesHost, true)
	setList(&cfg.DependenciesTarget, file.DependenciesTarget, true)
	setList(&cfg.DependenciesPPA, file.DependenciesPPA, true)
	setList(&cfg.InstallLib, file.InstallLib, true)
	setList(&cfg.InstallBin, file.InstallBin, true)
	setList(&cfg.InstallQml, file.InstallQml, true)
	setList(&cfg.Ignore, file.Ignore, true)
	setList(&cfg.BuildArgs, file.BuildArgs, true)
	setList(&cfg.MakeArgs, file.MakeArgs, true)

	copyMap(cfg.Scripts, file.Scripts)
	copyMap(cfg.InstallData, file.InstallData)
	copyMap(cfg.EnvVars, file.EnvVars)

	if file.MakeJobs != nil {
		if *file.MakeJobs <= 0 {
			return clickerr.ConfigKey("make_jobs", "must be a positive number")
		}
		cfg.MakeJobs = strconv.Itoa(*file.MakeJobs)
		r.makeJobsSet = true
	}
	if file.ImageSetup != nil {
		cfg.ImageSetup = ImageSetup{
			Env: cloneMap(file.ImageSetup.Env),
			Run: FlexList{Items: file.ImageSetup.Run.Values(false)},
		}
	}
	if file.AlwaysClean != nil {
		cfg.AlwaysClean = *file.AlwaysClean
	}
	return nil
}

func (r *resolver) applyGlobal(cfg *Config, global *GlobalFile, file *File) {
	cfg.Device = DeviceSettings{
		IPv4:          global.Device.IPv4,
		SSHPort:       global.Device.SSHPort,
		SerialNumber:  global.Device.SerialNumber,
		DefaultTarget: global.Device.DefaultTarget,
		Arch:          global.Device.Arch,
		SkipUninstall: global.Device.SkipUninstall,
	}
	cfg.ContainerMode = global.Environment.ContainerMode
	cfg.AlwaysClean = cfg.AlwaysClean || global.Build.AlwaysClean
	cfg.RestrictArchEnv = global.Environment.RestrictArch
	if nvidia := global.Environment.Nvidia; nvidia != nil {
		cfg.UseNvidia = *nvidia
		r.avoidNvidia = !*nvidia
	}
	if !file.Default.Set() && global.CLI.DefaultChain.Set() {
		cfg.Default = global.CLI.DefaultChain.Values(true)
	}
}

func (r *resolver) applyFlags(cfg *Config) {
	flags := r.in.Flags
	if flags.SerialNumber != "" {
		cfg.Device.SerialNumber = flags.SerialNumber
	}
	if flags.SSH != "" {
		cfg.Device.IPv4 = flags.SSH
	}
	if flags.SSHPort > 0 {
		cfg.Device.SSHPort = flags.SSHPort
	}
	if flags.Target != "" {
		cfg.Device.DefaultTarget = flags.Target
	}
	if flags.ContainerMode {
		cfg.ContainerMode = true
	}
	if flags.Nvidia {
		cfg.UseNvidia = true
	}
	if flags.NoNvidia {
		r.avoidNvidia = true
	}
	if flags.NonInteractive {
		cfg.Interactive = false
	}
	if flags.AlwaysClean {
		cfg.AlwaysClean = true
	}
	if flags.Arch != "" {
		r.explicitArch = flags.Arch
	}
	if flags.DockerImage != "" {
		r.customImage = flags.DockerImage
	}
}

func (r *resolver) resolveCommands(cfg *Config) {
	cfg.Commands = slices.Clone(r.in.Commands)
	if len(cfg.Commands) == 0 {
		cfg.Commands = slices.Clone(cfg.Default)
	}
	if cfg.AlwaysClean && isAppBuild(cfg.Commands) && cfg.Commands[0] != "clean" {
		cfg.Commands = append([]string{"clean"}, cfg.Commands...)
	}
	cfg.Ignore = append(cfg.Ignore, ".git", ".bzr", ".clickable")
}

// substitute expands placeholders of cfg in place.
func (r *resolver) substitute(cfg *Config) {
	cfg.Placeholders = r.table
	result := placeholder.Substitute(cfg.values(), appFields, cfg.Placeholders, cfg.RootDir)
	for _, skip := range result.Skipped {
		r.logger.Warn("placeholder has no value, leaving it unexpanded", "key", skip.Field, "placeholder", skip.Token)
	}
	cfg.assign(result.Values)
	cfg.Gopath = absoluteList(cfg.Gopath, cfg.RootDir)
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func setList(dst *[]string, value FlexList, split bool) {
	if value.Set() {
		*dst = value.Values(split)
	}
}

func copyMap(dst, src map[string]string) {
	for key, value := range src {
		dst[key] = value
	}
}

func cloneMap(src map[string]string) map[string]string {
	out := make(map[string]string, len(src))
	copyMap(out, src)
	return out
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}

// absoluteList makes every element of a colon separated path list absolute.
func absoluteList(value, root string) string {
	if value == "" {
		return value
	}
	parts := filepath.SplitList(value)
	for i, part := range parts {
		parts[i] = placeholder.Absolute(part, root)
	}
	return strings.Join(parts, string(filepath.ListSeparator))
}
