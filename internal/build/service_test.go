package build

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/container"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/shell"
)

// scriptRunner records bash scripts. Output answers "ls -d" with the pattern
// itself and "cat" with qmldir.
type scriptRunner struct {
	commands []shell.Command
	qmldir   string
}

func (r *scriptRunner) Run(_ context.Context, cmd shell.Command) error {
	r.commands = append(r.commands, cmd)
	return nil
}

func (r *scriptRunner) Output(_ context.Context, cmd shell.Command) (string, error) {
	r.commands = append(r.commands, cmd)
	script := cmd.Args[len(cmd.Args)-1]
	switch {
	case strings.HasPrefix(script, "ls -d "):
		return strings.TrimPrefix(script, "ls -d ") + "\n", nil
	case strings.HasPrefix(script, "cat "):
		return r.qmldir, nil
	default:
		return "", nil
	}
}

func (r *scriptRunner) scripts() []string {
	var out []string
	for _, cmd := range r.commands {
		out = append(out, cmd.Args[len(cmd.Args)-1])
	}
	return out
}

// localPreparer hands out host environments and records the Dockerfile each
// unit would be derived from.
type localPreparer struct {
	runner      shell.Runner
	prepared    []string
	dockerfiles []string
}

func (p *localPreparer) Prepare(_ context.Context, cfg *project.Config) (*container.Environment, error) {
	p.prepared = append(p.prepared, cfg.Name)
	p.dockerfiles = append(p.dockerfiles, container.NewDescriptor(cfg, arch.AMD64).Dockerfile())
	return &container.Environment{Config: cfg, Local: true, Runner: p.runner}, nil
}

func newService() (*Service, *scriptRunner, *localPreparer) {
	runner := &scriptRunner{}
	preparer := &localPreparer{runner: runner}
	return &Service{EnvironmentPreparer: preparer, Runner: runner}, runner, preparer
}

func appConfig(t *testing.T) *project.Config {
	t.Helper()
	root := t.TempDir()
	build := filepath.Join(root, "build", "x86_64-linux-gnu", "app")
	install := filepath.Join(build, "install")
	return &project.Config{
		Builder:    project.BuilderCustom,
		RootDir:    root,
		SrcDir:     root,
		BuildDir:   build,
		BuildHome:  filepath.Join(build, ".clickable", "home"),
		InstallDir: install,
		AppLibDir:  filepath.Join(install, "lib", "x86_64-linux-gnu"),
		AppBinDir:  filepath.Join(install, "lib", "x86_64-linux-gnu", "bin"),
		AppQmlDir:  filepath.Join(install, "lib", "x86_64-linux-gnu"),
		Test:       "qmltestrunner",
	}
}

func TestRunBuildsAndInstalls(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	lib := filepath.Join(t.TempDir(), "libfoo.so")
	if err := os.WriteFile(lib, []byte("elf"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg.Prebuild = []string{"pre"}
	cfg.Build = []string{"compile"}
	cfg.Postbuild = []string{"post"}
	cfg.InstallLib = []string{lib}

	svc, runner, _ := newService()
	result, err := svc.Run(context.Background(), cfg, &Request{Debug: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"pre", "compile", "ls -d " + lib, "post"}
	if got := runner.scripts(); !slices.Equal(got, want) {
		t.Fatalf("scripts = %q, want %q", got, want)
	}
	if dir := runner.commands[0].Dir; dir != cfg.RootDir {
		t.Fatalf("prebuild dir = %q, want %q", dir, cfg.RootDir)
	}
	if dir := runner.commands[3].Dir; dir != cfg.BuildDir {
		t.Fatalf("postbuild dir = %q, want %q", dir, cfg.BuildDir)
	}
	if got := runner.commands[1].Env["DEBUG_BUILD"]; got != "1" {
		t.Fatalf("DEBUG_BUILD = %q, want 1", got)
	}
	if cfg.EnvVars["DEBUG_BUILD"] != "" {
		t.Fatal("debug build modified the resolved configuration")
	}
	if _, err := os.Stat(filepath.Join(cfg.AppLibDir, "libfoo.so")); err != nil {
		t.Fatalf("installed library missing: %v", err)
	}
	if !slices.Equal(result.Installed, []string{lib}) {
		t.Fatalf("Installed = %q", result.Installed)
	}
}

func TestRunCleanAndOutput(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	cfg.Build = []string{"compile"}
	stale := filepath.Join(cfg.BuildDir, "stale.o")
	if err := os.MkdirAll(cfg.BuildDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(stale, nil, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.MkdirAll(cfg.InstallDir, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	output := filepath.Join(t.TempDir(), "out")

	svc, _, _ := newService()
	if _, err := svc.Run(context.Background(), cfg, &Request{Clean: true, Output: output}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("Stat(stale) error = %v, want not exist", err)
	}
	if _, err := os.Stat(output); err != nil {
		t.Fatalf("Stat(output) error = %v", err)
	}
}

func TestInstallQmlFollowsModuleName(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	plugin := filepath.Join(t.TempDir(), "Bar")
	if err := os.MkdirAll(plugin, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(plugin, "qmldir"), []byte("module Foo.Bar\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg.InstallQml = []string{plugin}

	svc, runner, _ := newService()
	runner.qmldir = "# generated\nmodule Foo.Bar\nplugin bar\n"
	if _, err := svc.Run(context.Background(), cfg, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.AppQmlDir, "Foo", "Bar", "qmldir")); err != nil {
		t.Fatalf("qml module not installed below its module path: %v", err)
	}
}

func TestInstallQmlWithoutModuleLine(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	plugin := filepath.Join(t.TempDir(), "Bar")
	if err := os.MkdirAll(plugin, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(plugin, "qmldir"), []byte("plugin bar\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cfg.InstallQml = []string{plugin}

	svc, runner, _ := newService()
	runner.qmldir = "plugin bar\n"
	result, err := svc.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.AppQmlDir, "Bar", "qmldir")); err != nil {
		t.Fatalf("qml directory not installed into the qml dir: %v", err)
	}
	if !slices.Equal(result.Installed, []string{plugin}) {
		t.Fatalf("Installed = %q", result.Installed)
	}
}

func TestInstallExpandsGlobs(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	libs := filepath.Join(t.TempDir(), "libs")
	if err := os.MkdirAll(libs, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	for _, name := range []string{"a.so", "b.so", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(libs, name), []byte(name), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	cfg.Build = []string{"true"}
	cfg.InstallLib = []string{filepath.Join(libs, "*.so")}

	runner := &shell.Exec{}
	svc := &Service{EnvironmentPreparer: &localPreparer{runner: runner}, Runner: runner}
	result, err := svc.Run(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, name := range []string{"a.so", "b.so"} {
		if _, err := os.Stat(filepath.Join(cfg.AppLibDir, name)); err != nil {
			t.Fatalf("%s not installed: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.AppLibDir, "notes.txt")); !os.IsNotExist(err) {
		t.Fatalf("Stat(notes.txt) error = %v, want not exist", err)
	}
	if len(result.Installed) != 2 {
		t.Fatalf("Installed = %q, want two libraries", result.Installed)
	}
}

func TestDebugKeepsImageDescriptor(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	cfg.DockerImage = "clickable/amd64-16.04-amd64"
	cfg.Build = []string{"compile"}

	svc, runner, preparer := newService()
	if _, err := svc.Run(context.Background(), cfg, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if _, err := svc.Run(context.Background(), cfg, &Request{Debug: true}); err != nil {
		t.Fatalf("Run(debug) error = %v", err)
	}

	if len(preparer.dockerfiles) != 2 || preparer.dockerfiles[0] != preparer.dockerfiles[1] {
		t.Fatalf("dockerfiles differ with debug:\n%s", strings.Join(preparer.dockerfiles, "\n---\n"))
	}
	if strings.Contains(preparer.dockerfiles[1], "DEBUG_BUILD") {
		t.Fatalf("dockerfile exports DEBUG_BUILD:\n%s", preparer.dockerfiles[1])
	}
	last := runner.commands[len(runner.commands)-1]
	if last.Env["DEBUG_BUILD"] != "1" {
		t.Fatalf("debug build ran without DEBUG_BUILD, env = %v", last.Env)
	}
}

func TestInstallRejectsQuotes(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	cfg.InstallData = map[string]string{`evil"; rm -rf /`: "share"}

	svc, _, _ := newService()
	_, err := svc.Run(context.Background(), cfg, nil)
	if !clickerr.Is(err, clickerr.Configuration) {
		t.Fatalf("Run() error = %v, want configuration error", err)
	}
}

func TestBuildLibrariesFilters(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	for _, name := range []string{"a", "b"} {
		lib := appConfig(t)
		lib.Name = name
		lib.Build = []string{"build " + name}
		cfg.Libraries = append(cfg.Libraries, lib)
	}

	svc, runner, preparer := newService()
	results, err := svc.BuildLibraries(context.Background(), cfg, &Request{Libraries: []string{"b"}})
	if err != nil {
		t.Fatalf("BuildLibraries() error = %v", err)
	}
	if len(results) != 1 || results[0].Unit != "b" {
		t.Fatalf("results = %+v", results)
	}
	if !slices.Equal(preparer.prepared, []string{"b"}) {
		t.Fatalf("prepared = %q", preparer.prepared)
	}
	if got := runner.scripts(); !slices.Equal(got, []string{"build b"}) {
		t.Fatalf("scripts = %q", got)
	}

	_, err = svc.BuildLibraries(context.Background(), cfg, &Request{Libraries: []string{"c"}})
	if !clickerr.Is(err, clickerr.Configuration) {
		t.Fatalf("BuildLibraries(c) error = %v, want configuration error", err)
	}
}

func TestClean(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	lib := appConfig(t)
	lib.Name = "a"
	cfg.Libraries = []*project.Config{lib}
	for _, dir := range []string{cfg.BuildDir, lib.BuildDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
	}

	svc, _, _ := newService()
	if err := svc.Clean(cfg, false, []string{}); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if _, err := os.Stat(lib.BuildDir); !os.IsNotExist(err) {
		t.Fatalf("library build dir still exists: %v", err)
	}
	if _, err := os.Stat(cfg.BuildDir); err != nil {
		t.Fatalf("app build dir removed: %v", err)
	}

	if err := svc.Clean(cfg, true, nil); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if _, err := os.Stat(cfg.BuildDir); !os.IsNotExist(err) {
		t.Fatalf("app build dir still exists: %v", err)
	}

	if err := svc.Clean(cfg, false, []string{"missing"}); !clickerr.Is(err, clickerr.Configuration) {
		t.Fatalf("Clean(missing) error = %v, want configuration error", err)
	}
}

func TestTestRunsOnVirtualScreen(t *testing.T) {
	t.Parallel()

	svc, runner, _ := newService()
	if err := svc.Test(context.Background(), appConfig(t)); err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if got := runner.scripts(); !slices.Equal(got, []string{"xvfb-startup qmltestrunner"}) {
		t.Fatalf("scripts = %q", got)
	}
}

func TestScript(t *testing.T) {
	t.Parallel()

	cfg := appConfig(t)
	cfg.Scripts = map[string]string{"lint": "qmllint *.qml", "fmt": "clang-format -i src/*.cpp"}

	svc, runner, _ := newService()
	if err := svc.Script(context.Background(), cfg, "lint"); err != nil {
		t.Fatalf("Script() error = %v", err)
	}
	if got := runner.scripts(); !slices.Equal(got, []string{"qmllint *.qml"}) {
		t.Fatalf("scripts = %q", got)
	}
	if dir := runner.commands[0].Dir; dir != cfg.RootDir {
		t.Fatalf("script dir = %q, want %q", dir, cfg.RootDir)
	}

	err := svc.Script(context.Background(), cfg, "deploy")
	if !clickerr.Is(err, clickerr.Configuration) {
		t.Fatalf("Script(deploy) error = %v, want configuration error", err)
	}
	if hint := clickerr.HintOf(err); hint != "available scripts: fmt, lint" {
		t.Fatalf("hint = %q", hint)
	}
}
