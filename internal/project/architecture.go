package project

import (
	"regexp"
	"slices"
	"strconv"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
)

// Builder names.
const (
	BuilderPureQMLQMake = "pure-qml-qmake"
	BuilderQMake        = "qmake"
	BuilderPureQMLCMake = "pure-qml-cmake"
	BuilderCMake        = "cmake"
	BuilderCustom       = "custom"
	BuilderCordova      = "cordova"
	BuilderPure         = "pure"
	BuilderPython       = "python"
	BuilderGo           = "go"
	BuilderRust         = "rust"
	BuilderPrecompiled  = "precompiled"
)

// Builders lists every builder name accepted in a project file.
var Builders = []string{
	BuilderPureQMLQMake, BuilderQMake, BuilderPureQMLCMake, BuilderCMake,
	BuilderCustom, BuilderCordova, BuilderPure, BuilderPython, BuilderGo,
	BuilderRust, BuilderPrecompiled,
}

var archAgnosticBuilders = []string{BuilderPureQMLQMake, BuilderPureQMLCMake, BuilderPure}

// IsArchAgnostic reports whether builder produces architecture independent
// packages.
func IsArchAgnostic(builder string) bool {
	return slices.Contains(archAgnosticBuilders, builder)
}

var desktopCommands = []string{"desktop", "test", "test-libs"}

func isDesktop(commands []string) bool {
	return slices.ContainsFunc(commands, func(c string) bool { return slices.Contains(desktopCommands, c) })
}

func isAppBuild(commands []string) bool {
	return isDesktop(commands) || slices.Contains(commands, "build")
}

func isBuild(commands []string) bool {
	return isAppBuild(commands) || slices.Contains(commands, "build-libs")
}

// resolveArch picks the target architecture, first match wins.
func (r *resolver) resolveArch(cfg *Config, global *GlobalFile) error {
	choice, reason := r.chooseArch(cfg, global)
	if choice == "" {
		choice, reason = string(r.host), "host architecture"
	}

	parsed, err := arch.Parse(choice)
	if err != nil {
		return clickerr.ConfigKey("arch", "%v", err)
	}
	cfg.Arch = parsed
	r.logger.Debug("architecture selected", "arch", cfg.Arch, "reason", reason)

	triplet, err := cfg.Arch.Triplet()
	if err != nil {
		return clickerr.ConfigKey("arch", "%v", err)
	}
	cfg.ArchTriplet = triplet

	cfg.BuildArch = string(cfg.Arch)
	if cfg.Arch == arch.All {
		cfg.BuildArch = string(r.host)
	}
	cfg.ArchRust = arch.Architecture(cfg.BuildArch).RustTarget()
	return nil
}

func (r *resolver) chooseArch(cfg *Config, global *GlobalFile) (string, string) {
	switch {
	case r.explicitArch != "" && r.explicitArch != string(arch.Detect):
		return r.explicitArch, "explicitly requested"
	case IsArchAgnostic(cfg.Builder):
		return string(arch.All), "builder is architecture agnostic"
	case isDesktop(cfg.Commands) || cfg.ContainerMode:
		return string(r.host), "local execution"
	case cfg.RestrictArch != "":
		return cfg.RestrictArch, "project restriction"
	case cfg.RestrictArchEnv != "":
		return cfg.RestrictArchEnv, "environment restriction"
	case r.in.DeviceArch != "":
		return r.in.DeviceArch, "detected device"
	case global.Build.DefaultArch != "":
		return global.Build.DefaultArch, "global default"
	}
	return "", ""
}

var makeJobsPattern = regexp.MustCompile(`^-j(\d+)$`)

// makeJobsFromArgs returns N for a -jN entry in args.
func makeJobsFromArgs(args []string) string {
	for _, arg := range args {
		if m := makeJobsPattern.FindStringSubmatch(arg); m != nil {
			return m[1]
		}
	}
	return ""
}

// deriveDefaults fills keys whose defaults depend on other keys.
func (r *resolver) deriveDefaults(cfg *Config) error {
	if cfg.Arch == arch.All {
		cfg.AppLibDir = "${INSTALL_DIR}/lib"
		cfg.AppBinDir = "${INSTALL_DIR}"
		cfg.AppQmlDir = "${INSTALL_DIR}/qml"
	}

	if cfg.Kill == "" {
		switch {
		case cfg.Builder == BuilderCordova:
			cfg.Kill = "cordova-ubuntu"
		case IsArchAgnostic(cfg.Builder):
			cfg.Kill = "qmlscene"
		}
	}

	if jobs := makeJobsFromArgs(cfg.MakeArgs); jobs != "" {
		if r.makeJobsSet {
			return clickerr.ConfigKey("make_jobs", `number of make jobs has been specified by both "make_args" and "make_jobs"`)
		}
		r.logger.Warn(`number of make jobs has been set via "make_args", better use "make_jobs" instead`)
		cfg.MakeJobs = jobs
	} else {
		if cfg.MakeJobs == "" {
			cfg.MakeJobs = strconv.Itoa(r.in.CPUs)
		}
		cfg.MakeArgs = append(cfg.MakeArgs, "-j"+cfg.MakeJobs)
	}

	if cfg.Framework == "" {
		framework, ok := qtFrameworks[cfg.QtVersion]
		if !ok {
			return clickerr.ConfigKey("qt_version", "Qt version %q is not known to clickable", cfg.QtVersion)
		}
		cfg.Framework = framework
	}
	return nil
}
