package deploy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/clickable/arch"
	"github.com/cochaviz/clickable/internal/clickerr"
	"github.com/cochaviz/clickable/internal/device"
	"github.com/cochaviz/clickable/internal/project"
	"github.com/cochaviz/clickable/internal/shell"
)

// deviceRunner answers every command successfully with the output of the
// longest matching prefix. Commands matching fail exit non-zero.
type deviceRunner struct {
	calls   []string
	outputs map[string]string
	fail    []string
}

func (r *deviceRunner) Run(ctx context.Context, cmd shell.Command) error {
	_, err := r.Output(ctx, cmd)
	return err
}

func (r *deviceRunner) Output(_ context.Context, cmd shell.Command) (string, error) {
	line := cmd.Name + " " + strings.Join(cmd.Args, " ")
	r.calls = append(r.calls, line)
	for _, prefix := range r.fail {
		if strings.HasPrefix(line, prefix) {
			return "", &shell.ExitError{Command: line, Code: 1}
		}
	}
	var out string
	longest := -1
	for prefix, value := range r.outputs {
		if strings.HasPrefix(line, prefix) && len(prefix) > longest {
			out, longest = value, len(prefix)
		}
	}
	return out, nil
}

const sshPrefix = "ssh phablet@10.0.0.2 "

// sshDevice resolves a device over ssh and forgets the detection commands.
func sshDevice(t *testing.T, runner *deviceRunner) *device.Device {
	t.Helper()
	if runner.outputs == nil {
		runner.outputs = map[string]string{}
	}
	runner.outputs["ssh -o BatchMode=yes"] = "armhf\n"
	resolver := &device.Resolver{Runner: runner, Settings: device.Settings{IPv4: "10.0.0.2"}}
	dev, err := resolver.Resolve(context.Background(), device.SSH, true)
	require.NoError(t, err)
	runner.calls = nil
	return dev
}

func writeClick(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("click"), 0o644))
	return path
}

func TestInstallReplacesInstalledVersion(t *testing.T) {
	t.Parallel()

	cfg := &project.Config{Arch: arch.ARMHF, BuildDir: t.TempDir(), Framework: "ubuntu-sdk-20.04"}
	click := writeClick(t, cfg.BuildDir, "foo.bar_1.1_armhf.click")
	runner := &deviceRunner{outputs: map[string]string{sshPrefix + "readlink": "1.0\n"}}
	dev := sshDevice(t, runner)

	require.NoError(t, (&Service{}).Install(context.Background(), dev, cfg, InstallRequest{}))

	assert.Equal(t, []string{
		"scp " + click + " phablet@10.0.0.2:/home/phablet/foo.bar_1.1_armhf.click",
		sshPrefix + "readlink /opt/click.ubuntu.com/foo.bar/current",
		sshPrefix + lomiriClick + "Remove foo.bar",
		sshPrefix + lomiriClick + "Install /home/phablet/foo.bar_1.1_armhf.click",
		sshPrefix + "rm /home/phablet/foo.bar_1.1_armhf.click",
	}, runner.calls)
}

func TestInstallLegacyFrameworkSkipsUninstall(t *testing.T) {
	t.Parallel()

	cfg := &project.Config{Arch: arch.ARMHF, BuildDir: t.TempDir(), Framework: "ubuntu-sdk-16.04.5"}
	cfg.Device.SkipUninstall = true
	click := writeClick(t, t.TempDir(), "foo.bar_1.1_armhf.click")
	runner := &deviceRunner{}
	dev := sshDevice(t, runner)

	require.NoError(t, (&Service{}).Install(context.Background(), dev, cfg, InstallRequest{Click: click}))

	assert.Equal(t, []string{
		"scp " + click + " phablet@10.0.0.2:/home/phablet/foo.bar_1.1_armhf.click",
		sshPrefix + "pkcon install-local --allow-untrusted /home/phablet/foo.bar_1.1_armhf.click",
		sshPrefix + "rm /home/phablet/foo.bar_1.1_armhf.click",
	}, runner.calls)
}

func TestInstallNotInstalledYet(t *testing.T) {
	t.Parallel()

	cfg := &project.Config{Arch: arch.ARMHF, BuildDir: t.TempDir()}
	writeClick(t, cfg.BuildDir, "foo.bar_1.1_armhf.click")
	runner := &deviceRunner{fail: []string{sshPrefix + "readlink"}}
	dev := sshDevice(t, runner)

	require.NoError(t, (&Service{}).Install(context.Background(), dev, cfg, InstallRequest{}))
	for _, call := range runner.calls {
		assert.NotContains(t, call, "pkcon remove")
	}
}

func TestInstallWithoutClick(t *testing.T) {
	t.Parallel()

	cfg := &project.Config{Arch: arch.ARMHF, BuildDir: t.TempDir()}
	runner := &deviceRunner{}
	dev := sshDevice(t, runner)

	err := (&Service{}).Install(context.Background(), dev, cfg, InstallRequest{})
	assert.True(t, clickerr.Is(err, clickerr.Configuration))
	assert.Empty(t, runner.calls)
}

func TestInstallSkippedInContainerMode(t *testing.T) {
	t.Parallel()

	cfg := &project.Config{Arch: arch.AMD64, ContainerMode: true}
	runner := &deviceRunner{}
	dev := sshDevice(t, runner)

	require.NoError(t, (&Service{}).Install(context.Background(), dev, cfg, InstallRequest{}))
	assert.Empty(t, runner.calls)
}

func TestLaunch(t *testing.T) {
	t.Parallel()

	t.Run("kill failure does not stop launch", func(t *testing.T) {
		t.Parallel()
		cfg := &project.Config{Arch: arch.ARMHF, Kill: "firstrest"}
		runner := &deviceRunner{fail: []string{sshPrefix + "pkill"}}
		dev := sshDevice(t, runner)

		req := LaunchRequest{Package: "foo.bar_foo_1.1"}
		require.NoError(t, (&Service{}).Launch(context.Background(), dev, cfg, req))
		assert.Equal(t, []string{
			sshPrefix + `pkill -f "[f]irstrest"`,
			sshPrefix + "sleep 1s && ubuntu-app-launch foo.bar_foo_1.1",
		}, runner.calls)
	})

	t.Run("configured launch and skip kill", func(t *testing.T) {
		t.Parallel()
		cfg := &project.Config{Arch: arch.ARMHF, Kill: "qmlscene", Launch: "qmlscene Main.qml"}
		runner := &deviceRunner{}
		dev := sshDevice(t, runner)

		require.NoError(t, (&Service{}).Launch(context.Background(), dev, cfg, LaunchRequest{SkipKill: true}))
		assert.Equal(t, []string{sshPrefix + "sleep 1s && qmlscene Main.qml"}, runner.calls)
	})

	t.Run("nothing to launch", func(t *testing.T) {
		t.Parallel()
		cfg := &project.Config{Arch: arch.ARMHF}
		dev := sshDevice(t, &deviceRunner{})

		err := (&Service{}).Launch(context.Background(), dev, cfg, LaunchRequest{})
		assert.True(t, clickerr.Is(err, clickerr.Configuration))
	})
}

func TestLogs(t *testing.T) {
	t.Parallel()

	runner := &deviceRunner{}
	dev := sshDevice(t, runner)
	cfg := &project.Config{Arch: arch.ARMHF}

	require.NoError(t, (&Service{}).Logs(context.Background(), dev, cfg, "foo.bar_foo_1.1"))
	assert.Equal(t, []string{sshPrefix + "tail -f ~/.cache/upstart/application-click-foo.bar_foo_1.1.log"}, runner.calls)

	cfg.Log = "/tmp/app.log"
	runner.calls = nil
	require.NoError(t, (&Service{}).Logs(context.Background(), dev, cfg, ""))
	assert.Equal(t, []string{sshPrefix + "tail -f /tmp/app.log"}, runner.calls)

	cfg.Log = ""
	err := (&Service{}).Logs(context.Background(), dev, cfg, "")
	assert.True(t, clickerr.Is(err, clickerr.Configuration))
}

func TestShellOverADBPreparesSSH(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".ssh"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".ssh", "id_ed25519.pub"), []byte("ssh-ed25519 AAAA me@host\n"), 0o644))

	runner := &deviceRunner{outputs: map[string]string{
		"adb devices -l":                         "List of devices attached\nABC123 device model:FP3\n",
		"adb exec-out dpkg --print-architecture": "arm64\n",
	}}
	resolver := &device.Resolver{Runner: runner}
	dev, err := resolver.Resolve(context.Background(), device.ADB, true)
	require.NoError(t, err)
	runner.calls = nil

	require.NoError(t, (&Service{Home: home}).Shell(context.Background(), dev))

	require.Len(t, runner.calls, 5)
	assert.Equal(t, "adb exec-out pgrep sshd", runner.calls[0])
	assert.Equal(t, "adb exec-out "+enableSSH, runner.calls[1])
	assert.Contains(t, runner.calls[2], "grep -qxF 'ssh-ed25519 AAAA me@host' ~/.ssh/authorized_keys")
	assert.Equal(t, "adb forward tcp:2222 tcp:22", runner.calls[3])
	assert.Equal(t, "ssh -p 2222 -o UserKnownHostsFile=/dev/null -o StrictHostKeyChecking=no phablet@localhost", runner.calls[4])
}

func TestPackageName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "foo.bar", PackageName("/build/foo.bar_1.1_armhf.click"))
	assert.Equal(t, "plain", PackageName("plain.click"))
}
