package clickerr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestErrorMessageNamesKeyAndPath(t *testing.T) {
	t.Parallel()

	err := File("/p/clickable.yaml", fs.ErrPermission, "failed reading project config")
	want := "/p/clickable.yaml: failed reading project config: permission denied"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Fatalf("errors.Is(err, ErrPermission) = false")
	}

	keyErr := ConfigKey("build_dir", "must differ from %s", "root_dir")
	if keyErr.Error() != `"build_dir": must differ from root_dir` {
		t.Fatalf("Error() = %q", keyErr.Error())
	}
}

func TestKindOfWrapped(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("prepare: %w", Dev("multiple devices detected via adb"))
	if got := KindOf(wrapped); got != Device {
		t.Fatalf("KindOf() = %v, want %v", got, Device)
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Fatalf("KindOf(plain) should be 0")
	}
	if !Is(wrapped, Device) {
		t.Fatalf("Is(wrapped, Device) = false")
	}
}

func TestHintOfNested(t *testing.T) {
	t.Parallel()

	inner := Env("install docker or podman", "no container runtime found")
	outer := &Error{Kind: Environment, Message: "prepare", Err: inner}
	if got := HintOf(fmt.Errorf("run: %w", outer)); got != "install docker or podman" {
		t.Fatalf("HintOf() = %q", got)
	}
}
