package project

import (
	"maps"
	"os"
	"strconv"
	"strings"

	"github.com/cochaviz/clickable/internal/clickerr"
)

// EnvPrefix marks variables copied verbatim into env_vars, without the prefix.
const EnvPrefix = "CLICKABLE_ENV_"

// EnvironFromOS snapshots the process environment once, at the edge of the
// program.
func EnvironFromOS() map[string]string {
	env := map[string]string{}
	for _, entry := range os.Environ() {
		if key, value, ok := strings.Cut(entry, "="); ok {
			env[key] = value
		}
	}
	return env
}

// MergeEnv layers env on top of the env file values.
func MergeEnv(file, env map[string]string) map[string]string {
	out := make(map[string]string, len(file)+len(env))
	maps.Copy(out, file)
	maps.Copy(out, env)
	return out
}

func (r *resolver) applyEnv(cfg *Config, env map[string]string) error {
	get := func(key string) string { return env[key] }

	if get("CLICKABLE_CONTAINER_MODE") != "" {
		cfg.ContainerMode = true
	}
	if value := get("CLICKABLE_SERIAL_NUMBER"); value != "" {
		cfg.Device.SerialNumber = value
	}
	if value := get("CLICKABLE_SSH"); value != "" {
		cfg.Device.IPv4 = value
	}
	if value := get("CLICKABLE_DEFAULT_TARGET"); value != "" {
		cfg.Device.DefaultTarget = value
	}
	if get("CLICKABLE_NVIDIA") != "" {
		cfg.UseNvidia = true
	}
	if get("CLICKABLE_NO_NVIDIA") != "" {
		r.avoidNvidia = true
	}
	if get("CLICKABLE_NON_INTERACTIVE") != "" {
		cfg.Interactive = false
	}

	if value := get("CLICKABLE_ARCH"); value != "" {
		cfg.RestrictArchEnv = value
	}
	setString(&cfg.Framework, get("CLICKABLE_FRAMEWORK"))
	setString(&cfg.QtVersion, get("CLICKABLE_QT_VERSION"))
	setString(&cfg.Builder, get("CLICKABLE_BUILDER"))
	setString(&cfg.BuildDir, get("CLICKABLE_BUILD_DIR"))
	setString(&cfg.Test, get("CLICKABLE_TEST"))
	setString(&cfg.Gopath, get("GOPATH"))
	if value := get("CLICKABLE_DOCKER_IMAGE"); value != "" {
		r.customImage = value
	}
	if value := get("CLICKABLE_DEFAULT"); value != "" {
		cfg.Default = strings.Fields(value)
	}
	if value := get("CLICKABLE_BUILD_ARGS"); value != "" {
		cfg.BuildArgs = strings.Fields(value)
	}
	if value := get("CLICKABLE_MAKE_ARGS"); value != "" {
		cfg.MakeArgs = strings.Fields(value)
	}
	if value := get("CLICKABLE_MAKE_JOBS"); value != "" {
		jobs, err := strconv.Atoi(value)
		if err != nil || jobs <= 0 {
			return clickerr.ConfigKey("make_jobs", "CLICKABLE_MAKE_JOBS=%q is not a positive number", value)
		}
		cfg.MakeJobs = strconv.Itoa(jobs)
		r.makeJobsSet = true
	}
	if get("CLICKABLE_ALWAYS_CLEAN") != "" {
		cfg.AlwaysClean = true
	}

	for key, value := range env {
		if name, ok := strings.CutPrefix(key, EnvPrefix); ok && name != "" {
			cfg.EnvVars[name] = value
		}
	}
	return nil
}
