package simple

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/device"
	"github.com/cochaviz/clickable/internal/project"
)

func writeProject(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "clickable.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return root
}

func TestOpenContainerMode(t *testing.T) {
	t.Parallel()

	opts := Options{
		Root:     writeProject(t, "builder: custom\nbuild: echo hi\n"),
		Home:     t.TempDir(),
		Env:      map[string]string{},
		Flags:    project.Flags{ContainerMode: true},
		Commands: []string{"build"},
	}

	w, err := Open(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !w.Config.ContainerMode {
		t.Fatal("Config.ContainerMode = false, want true")
	}
	if w.Runtime != "" || w.Manager.Runtime != nil {
		t.Fatalf("container mode wired runtime %q", w.Runtime)
	}
	if w.Builds.EnvironmentPreparer != w.Manager {
		t.Fatal("build service does not use the container manager")
	}
	if w.Config.Arch != w.HostArch {
		t.Fatalf("Config.Arch = %q, want host %q", w.Config.Arch, w.HostArch)
	}
	if w.Deploys == nil || w.Deploys.Home != opts.Home || w.Host.Home != opts.Home {
		t.Fatal("deploy service or setup host not wired to the home directory")
	}
	if err := w.VerifyRuntime(context.Background()); err != nil {
		t.Fatalf("VerifyRuntime() in container mode error = %v", err)
	}
}

func TestOpenDetectUsesConfiguredDeviceArch(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	global := filepath.Join(home, "global.yaml")
	if err := os.WriteFile(global, []byte("device:\n  arch: armhf\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	opts := Options{
		Root:       writeProject(t, "builder: custom\nbuild: echo hi\n"),
		Home:       home,
		GlobalPath: global,
		// any executable on PATH passes runtime detection
		Env:      map[string]string{"CLICKABLE_DOCKER_COMMAND": "sh"},
		Flags:    project.Flags{Arch: string(arch.Detect)},
		Commands: []string{"config"},
	}

	w, err := Open(context.Background(), opts, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if w.Config.Arch != arch.ARMHF {
		t.Fatalf("Config.Arch = %q, want armhf", w.Config.Arch)
	}
	if w.Runtime != "sh" {
		t.Fatalf("Runtime = %q, want sh", w.Runtime)
	}
}

func TestSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flags   project.Flags
		want    device.Selection
		wantErr bool
	}{
		{name: "default", want: device.Detect},
		{name: "ssh address", flags: project.Flags{SSH: "192.168.1.2"}, want: device.SSH},
		{name: "forced adb", flags: project.Flags{Target: "adb", SSH: "192.168.1.2"}, want: device.ADB},
		{name: "host", flags: project.Flags{Target: "host"}, want: device.Host},
		{name: "unknown", flags: project.Flags{Target: "usb"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := selection(tt.flags)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("selection() = %q, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("selection() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("selection() = %q, want %q", got, tt.want)
			}
		})
	}
}
