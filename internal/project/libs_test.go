package project

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/cochaviz/clickable/internal/clickerr"
)

const librariesProject = `builder: cmake
build_args: -DFOO_PREFIX=${FOO_BAR_LIB_INSTALL_DIR}
libraries:
  foo-bar:
    builder: cmake
    build_args: -DBAZ=${BAZ_LIB_INSTALL_DIR}
    make_jobs: 2
  baz:
    builder: custom
    build: echo ${NAME} ${FOO_BAR_LIB_SRC_DIR}
    dependencies_target: libfoo-dev
`

func TestResolveLibraries(t *testing.T) {
	t.Parallel()

	in := newInputs(t)
	writeFile(t, in.Root, "clickable.yaml", librariesProject)

	cfg, err := Resolve(in)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(cfg.Libraries) != 2 {
		t.Fatalf("libraries = %d, want 2", len(cfg.Libraries))
	}

	baz, fooBar := cfg.Libraries[0], cfg.Libraries[1]
	if baz.Name != "baz" || fooBar.Name != "foo-bar" {
		t.Fatalf("library order = %q, %q, want baz, foo-bar", baz.Name, fooBar.Name)
	}

	bazBuild := filepath.Join(in.Root, "build", "x86_64-linux-gnu", "baz")
	if baz.BuildDir != bazBuild {
		t.Errorf("baz build_dir = %q, want %q", baz.BuildDir, bazBuild)
	}
	if want := filepath.Join(in.Root, "libs", "baz"); baz.SrcDir != want {
		t.Errorf("baz src_dir = %q, want %q", baz.SrcDir, want)
	}
	// foo-bar is resolved after baz, so baz cannot reference it.
	if want := []string{"echo baz ${FOO_BAR_LIB_SRC_DIR}"}; !reflect.DeepEqual(baz.Build, want) {
		t.Errorf("baz build = %q, want %q", baz.Build, want)
	}
	if want := []string{"-DBAZ=" + filepath.Join(bazBuild, "install")}; !reflect.DeepEqual(fooBar.BuildArgs, want) {
		t.Errorf("foo-bar build_args = %q, want %q", fooBar.BuildArgs, want)
	}
	if fooBar.MakeJobs != "2" || baz.MakeJobs != "4" {
		t.Errorf("make_jobs = %q, %q", fooBar.MakeJobs, baz.MakeJobs)
	}

	fooInstall := filepath.Join(in.Root, "build", "x86_64-linux-gnu", "foo-bar", "install")
	if want := []string{"-DFOO_PREFIX=" + fooInstall}; !reflect.DeepEqual(cfg.BuildArgs, want) {
		t.Errorf("app build_args = %q, want %q", cfg.BuildArgs, want)
	}

	prefix := strings.Join([]string{filepath.Join(bazBuild, "install"), fooInstall}, ":")
	for _, unit := range []*Config{cfg, baz, fooBar} {
		if got := unit.Environment()["CMAKE_PREFIX_PATH"]; got != prefix {
			t.Errorf("%q CMAKE_PREFIX_PATH = %q, want %q", unit.Name, got, prefix)
		}
	}
	if got, _ := cfg.PlaceholderValue("BAZ_LIB_BUILD_DIR"); got != bazBuild {
		t.Errorf("PlaceholderValue(BAZ_LIB_BUILD_DIR) = %q, want %q", got, bazBuild)
	}

	lib, ok := cfg.Library("baz")
	if !ok || !lib.NeedsCustomImage() {
		t.Errorf("Library(baz) = %v, %v, want library needing a derived image", lib, ok)
	}
}

func TestResolveLibraryRestrictArch(t *testing.T) {
	t.Parallel()

	in := newInputs(t)
	writeFile(t, in.Root, "clickable.yaml", `builder: cmake
libraries:
  native:
    builder: cmake
    restrict_arch: arm64
`)

	cfg, err := Resolve(in)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	lib := cfg.Libraries[0]
	if lib.Arch != "arm64" || lib.ArchTriplet != "aarch64-linux-gnu" {
		t.Fatalf("library arch = %q, triplet = %q", lib.Arch, lib.ArchTriplet)
	}
}

func TestResolveLibraryRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		project string
		key     string
	}{
		{
			name:    "missing builder",
			project: "builder: cmake\nlibraries:\n  foo:\n    build: make\n",
			key:     "libraries.foo.builder",
		},
		{
			name:    "custom without build",
			project: "builder: cmake\nlibraries:\n  foo:\n    builder: custom\n",
			key:     "libraries.foo.build",
		},
		{
			name:    "make jobs twice",
			project: "builder: cmake\nlibraries:\n  foo:\n    builder: cmake\n    make_args: -j3\n    make_jobs: 2\n",
			key:     "libraries.foo.make_jobs",
		},
		{
			name:    "build dir equals src dir",
			project: "builder: cmake\nlibraries:\n  foo:\n    builder: cmake\n    build_dir: libs/foo\n",
			key:     "libraries.foo.build_dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := newInputs(t)
			writeFile(t, in.Root, "clickable.yaml", tt.project)

			_, err := Resolve(in)
			if !clickerr.Is(err, clickerr.Configuration) {
				t.Fatalf("Resolve() error = %v, want configuration error", err)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("Resolve() error = %v, want key %q", err, tt.key)
			}
		})
	}
}

func TestEnvConform(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"foo":       "FOO",
		"foo-bar":   "FOO_BAR",
		"lib.qt5 x": "LIB_QT5_X",
	}
	for in, want := range tests {
		if got := EnvConform(in); got != want {
			t.Errorf("EnvConform(%q) = %q, want %q", in, got, want)
		}
	}
}
