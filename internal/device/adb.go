package device

import (
	"fmt"
	"strings"

	"github.com/cochaviz/clickable/internal/shell"
)

// ADB reaches a device through the Android debug bridge.
type ADB struct {
	// Serial selects one of several attached devices.
	Serial string
	// Legacy uses "adb shell", which older adbd versions need instead of
	// "adb exec-out".
	Legacy bool
}

var _ Transport = (*ADB)(nil)

func (a *ADB) State() State {
	return StateADB
}

func (a *ADB) base() []string {
	if a.Serial == "" {
		return nil
	}
	return []string{"-s", a.Serial}
}

// Command implements Transport.
func (a *ADB) Command(command string) shell.Command {
	verb := "exec-out"
	if a.Legacy {
		verb = "shell"
	}
	return shell.Command{Name: "adb", Args: append(a.base(), verb, command)}
}

// Push implements Transport.
func (a *ADB) Push(src, dst string) shell.Command {
	return shell.Command{Name: "adb", Args: append(a.base(), "push", src, dst)}
}

// ForwardCommand forwards host port local to device port remote.
func (a *ADB) ForwardCommand(local, remote int) shell.Command {
	args := append(a.base(), "forward", fmt.Sprintf("tcp:%d", local), fmt.Sprintf("tcp:%d", remote))
	return shell.Command{Name: "adb", Args: args}
}

// ListCommand lists attached devices.
func ListCommand() shell.Command {
	return shell.Command{Name: "adb", Args: []string{"devices", "-l"}}
}

// Attached is one device listed by adb.
type Attached struct {
	Serial string
	Model  string
}

func (a Attached) String() string {
	if a.Model == "" {
		return a.Serial
	}
	return a.Serial + " - " + a.Model
}

// ParseAttached parses the output of "adb devices -l".
func ParseAttached(output string) []Attached {
	var out []Attached
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "device") || strings.Contains(line, "devices") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		attached := Attached{Serial: fields[0]}
		for _, field := range fields[1:] {
			if model, ok := strings.CutPrefix(field, "model:"); ok {
				attached.Model = strings.TrimSpace(strings.ReplaceAll(model, "_", " "))
			}
		}
		out = append(out, attached)
	}
	return out
}
