package builders

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/container"
	"github.com/cochaviz/clickable/internal/project"
)

type call struct {
	cmd string
	dir string
}

type recorder struct {
	calls []call
	fail  string
}

func (r *recorder) Run(_ context.Context, cmd string, opts container.RunOptions) error {
	r.calls = append(r.calls, call{cmd: cmd, dir: opts.Dir})
	if r.fail != "" && cmd == r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) commands() []string {
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.cmd)
	}
	return out
}

func testConfig() *project.Config {
	return &project.Config{
		Arch:        arch.ARMHF,
		ArchTriplet: "arm-linux-gnueabihf",
		ArchRust:    "armv7-unknown-linux-gnueabihf",
		QtVersion:   "5.12",
		RootDir:     "/src",
		SrcDir:      "/src",
		BuildDir:    "/src/build",
		InstallDir:  "/src/build/install",
		MakeArgs:    []string{"-j4"},
	}
}

func build(t *testing.T, name string, cfg *project.Config, opts Options) []string {
	t.Helper()
	builder, err := For(name)
	if err != nil {
		t.Fatalf("For(%q) error = %v", name, err)
	}
	rec := &recorder{}
	if err := builder.Build(context.Background(), cfg, rec, opts); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return rec.commands()
}

func TestCMakeBuild(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.BuildArgs = []string{"-DFOO=ON"}
	cfg.Postmake = []string{"strip app"}

	got := build(t, project.BuilderCMake, cfg, Options{Debug: true})
	want := []string{
		"cmake -DFOO=ON -DCMAKE_BUILD_TYPE=Debug /src -DCMAKE_INSTALL_PREFIX:PATH=/.",
		"make -j4",
		"strip app",
		"make DESTDIR=/src/build/install/ install",
	}
	if !slices.Equal(got, want) {
		t.Fatalf("commands = %q, want %q", got, want)
	}
}

func TestQMakeBuild(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		arch arch.Architecture
		qt   string
		args []string
		want string
		opts Options
	}{
		{name: "cross", arch: arch.ARMHF, qt: "5.12", want: "/usr/lib/arm-linux-gnueabihf/qt5/bin/qmake /src"},
		{name: "host", arch: arch.AMD64, qt: "5.12", want: "qmake /src"},
		{name: "qt 5.9", arch: arch.ARMHF, qt: "5.9", want: "qmake /src"},
		{name: "pro file", arch: arch.AMD64, qt: "5.12", args: []string{"app.pro"}, want: "qmake app.pro"},
		{name: "debug", arch: arch.AMD64, qt: "5.12", opts: Options{Debug: true}, want: "qmake CONFIG+=debug /src"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			cfg.Arch = tt.arch
			cfg.QtVersion = tt.qt
			cfg.BuildArgs = tt.args
			tt.opts.HostArch = arch.AMD64

			got := build(t, project.BuilderQMake, cfg, tt.opts)
			if got[0] != tt.want {
				t.Fatalf("qmake command = %q, want %q", got[0], tt.want)
			}
			if last := got[len(got)-1]; last != "make INSTALL_ROOT=/src/build/install/ install" {
				t.Fatalf("install command = %q", last)
			}
		})
	}
}

func TestCustomBuildStopsOnFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Build = []string{"one", "two", "three"}
	builder, err := For(project.BuilderCustom)
	if err != nil {
		t.Fatalf("For() error = %v", err)
	}

	rec := &recorder{fail: "two"}
	if err := builder.Build(context.Background(), cfg, rec, Options{}); err == nil {
		t.Fatal("Build() error = nil, want failure")
	}
	if got := rec.commands(); !slices.Equal(got, []string{"one", "two"}) {
		t.Fatalf("commands = %q", got)
	}
}

func TestGoAndRustRunInSourceDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	for _, name := range []string{project.BuilderGo, project.BuilderRust} {
		builder, err := For(name)
		if err != nil {
			t.Fatalf("For(%q) error = %v", name, err)
		}
		rec := &recorder{}
		if err := builder.Build(context.Background(), cfg, rec, Options{Verbose: true}); err != nil {
			t.Fatalf("Build(%q) error = %v", name, err)
		}
		if len(rec.calls) != 1 || rec.calls[0].dir != "/src" {
			t.Fatalf("%s calls = %+v", name, rec.calls)
		}
	}

	got := build(t, project.BuilderRust, cfg, Options{})
	want := "cargo +$CLICKABLE_RUST_CHANNEL install --target armv7-unknown-linux-gnueabihf --target-dir /src/build --root /src/build/install --path /src"
	if got[0] != want {
		t.Fatalf("rust command = %q, want %q", got[0], want)
	}
}

func TestPureCopiesProjectTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := &project.Config{
		RootDir:    root,
		BuildDir:   filepath.Join(root, "build", "all", "app"),
		InstallDir: filepath.Join(root, "build", "all", "app", "install"),
		Ignore:     []string{"secret.txt"},
	}
	files := map[string]string{
		"main.qml":           "qml",
		"assets/logo.svg":    "svg",
		"secret.txt":         "x",
		"clickable.yaml":     "builder: pure",
		"build/all/app/junk": "old",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	build(t, project.BuilderPure, cfg, Options{})

	for _, name := range []string{"main.qml", "assets/logo.svg"} {
		if _, err := os.Stat(filepath.Join(cfg.InstallDir, name)); err != nil {
			t.Fatalf("Stat(%q) error = %v", name, err)
		}
	}
	for _, name := range []string{"secret.txt", "clickable.yaml", "build/all/app/junk"} {
		if _, err := os.Stat(filepath.Join(cfg.InstallDir, name)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("Stat(%q) error = %v, want not exist", name, err)
		}
	}
}

func TestForUnknownBuilder(t *testing.T) {
	t.Parallel()

	_, err := For(project.BuilderCordova)
	if !clickerr.Is(err, clickerr.Configuration) {
		t.Fatalf("For(cordova) error = %v, want configuration error", err)
	}
}
