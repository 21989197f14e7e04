package project

import (
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/placeholder"
)

// resolveLibraries derives one Config per declared library, in name order.
// Every library can reference the libraries resolved before it; the app can
// reference all of them.
func (r *resolver) resolveLibraries(app *Config, files map[string]LibraryFile) error {
	names := slices.Sorted(maps.Keys(files))

	var siblings placeholder.Table
	siblingValues := map[string]string{}

	for _, name := range names {
		lib, err := r.resolveLibrary(app, name, files[name], siblings, siblingValues)
		if err != nil {
			return err
		}
		app.Libraries = append(app.Libraries, lib)

		table, values := libraryEntries(lib)
		siblings = siblings.With(table...)
		maps.Copy(siblingValues, values)
	}

	if len(app.Libraries) == 0 {
		return nil
	}

	installDirs := make([]string, len(app.Libraries))
	for i, lib := range app.Libraries {
		installDirs[i] = lib.InstallDir
	}
	prefixPath := strings.Join(installDirs, ":")
	app.prefixPath = prefixPath
	for _, lib := range app.Libraries {
		lib.prefixPath = prefixPath
	}

	r.table = r.table.With(siblings...)
	app.extra = siblingValues
	return nil
}

func (r *resolver) resolveLibrary(app *Config, name string, file LibraryFile, siblings placeholder.Table, siblingValues map[string]string) (*Config, error) {
	lib := &Config{
		Name:          name,
		Arch:          app.Arch,
		BuildArch:     app.BuildArch,
		ArchRust:      app.ArchRust,
		QtVersion:     app.QtVersion,
		Framework:     app.Framework,
		RootDir:       app.RootDir,
		BuildDir:      "${ROOT}/build/${ARCH_TRIPLET}/${NAME}",
		BuildHome:     "${BUILD_DIR}/.clickable/home",
		SrcDir:        "${ROOT}/libs/${NAME}",
		InstallDir:    "${BUILD_DIR}/install",
		CargoHome:     filepath.Join(r.in.Home, ".clickable", "cargo"),
		DockerImage:   app.DockerImage,
		CustomImage:   app.CustomImage,
		KnownImages:   app.KnownImages,
		EnvVars:       map[string]string{},
		ContainerMode: app.ContainerMode,
		Interactive:   app.Interactive,
		Device:        app.Device,
		Commands:      app.Commands,
	}

	lib.RestrictArch = file.RestrictArch
	if lib.RestrictArch == "host" {
		lib.RestrictArch = string(r.host)
	}
	if r.explicitArch == "" && lib.RestrictArch != "" {
		restricted, err := arch.Parse(lib.RestrictArch)
		if err != nil {
			return nil, libError(name, "restrict_arch", "%v", err)
		}
		lib.Arch = restricted
		if restricted != arch.All && string(restricted) != app.BuildArchBase() {
			lib.BuildArch = string(restricted)
			lib.ArchRust = restricted.RustTarget()
			if !lib.CustomImage && lib.DockerImage != "" {
				image, err := LookupImage(r.host, lib.Framework, lib.BuildArch)
				if err != nil {
					return nil, err
				}
				lib.DockerImage = image
			}
		}
	}
	triplet, err := lib.Arch.Triplet()
	if err != nil {
		return nil, libError(name, "arch", "%v", err)
	}
	lib.ArchTriplet = triplet

	setString(&lib.Builder, file.Builder)
	setString(&lib.Test, file.Test)
	setString(&lib.BuildDir, file.BuildDir)
	setString(&lib.BuildHome, file.BuildHome)
	setString(&lib.SrcDir, file.SrcDir)
	setString(&lib.InstallDir, file.InstallDir)
	setString(&lib.CargoHome, expandHome(file.CargoHome, r.in.Home))
	setString(&lib.RustChannel, file.RustChannel)
	if file.DockerImage != "" {
		lib.DockerImage = file.DockerImage
		lib.CustomImage = true
	}

	setList(&lib.Prebuild, file.Prebuild, false)
	setList(&lib.Build, file.Build, false)
	setList(&lib.Postmake, file.Postmake, false)
	setList(&lib.Postbuild, file.Postbuild, false)
	setList(&lib.DependenciesHost, file.DependenciesHost, true)
	setList(&lib.DependenciesTarget, file.DependenciesTarget, true)
	setList(&lib.DependenciesPPA, file.DependenciesPPA, true)
	setList(&lib.BuildArgs, file.BuildArgs, true)
	setList(&lib.MakeArgs, file.MakeArgs, true)
	copyMap(lib.EnvVars, file.EnvVars)
	if file.ImageSetup != nil {
		lib.ImageSetup = ImageSetup{
			Env: cloneMap(file.ImageSetup.Env),
			Run: FlexList{Items: file.ImageSetup.Run.Values(false)},
		}
	}

	if file.MakeJobs != nil {
		if *file.MakeJobs <= 0 {
			return nil, libError(name, "make_jobs", "must be a positive number")
		}
		lib.MakeJobs = strconv.Itoa(*file.MakeJobs)
	}
	if jobs := makeJobsFromArgs(lib.MakeArgs); jobs != "" {
		if file.MakeJobs != nil {
			return nil, libError(name, "make_jobs", `number of make jobs has been specified by both "make_args" and "make_jobs"`)
		}
		r.logger.Warn(`number of make jobs has been set via "make_args", better use "make_jobs" instead`, "library", name)
		lib.MakeJobs = jobs
	} else {
		if lib.MakeJobs == "" {
			lib.MakeJobs = strconv.Itoa(r.in.CPUs)
		}
		lib.MakeArgs = append(lib.MakeArgs, "-j"+lib.MakeJobs)
	}

	lib.extra = maps.Clone(siblingValues)
	lib.Placeholders = libPlaceholders.With(siblings...)

	result := placeholder.Substitute(lib.values(), libFields, lib.Placeholders, lib.RootDir)
	for _, skip := range result.Skipped {
		r.logger.Warn("placeholder has no value, leaving it unexpanded", "library", name, "key", skip.Field, "placeholder", skip.Token)
	}
	lib.assign(result.Values)

	if lib.Builder == "" {
		return nil, libError(name, "builder", "the project config is missing a builder")
	}
	if !slices.Contains(Builders, lib.Builder) {
		return nil, libError(name, "builder", "%q is not a valid builder (%s)", lib.Builder, strings.Join(Builders, ", "))
	}
	if lib.Builder == BuilderCustom && len(lib.Build) == 0 {
		return nil, libError(name, "build", `the "custom" builder needs a build command`)
	}
	if err := checkPaths(lib); err != nil {
		return nil, err
	}
	return lib, nil
}

func libError(name, key, format string, args ...any) error {
	return clickerr.ConfigKey("libraries."+name+"."+key, format, args...)
}
