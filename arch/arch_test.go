package arch

import "testing"

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]Architecture{
		"armhf":    ARMHF,
		" ARMv7l ": ARMHF,
		"aarch64":  ARM64,
		"x86_64":   AMD64,
		"amd64":    AMD64,
		"all":      All,
		"detect":   "",
		"mips":     "",
	}
	for input, want := range cases {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTriplet(t *testing.T) {
	t.Parallel()

	got, err := ARMHF.Triplet()
	if err != nil {
		t.Fatalf("Triplet() error = %v", err)
	}
	if got != "arm-linux-gnueabihf" {
		t.Fatalf("Triplet() = %q, want arm-linux-gnueabihf", got)
	}

	if _, err := Architecture("sparc").Triplet(); err == nil {
		t.Fatalf("Triplet() expected error for unknown architecture")
	}
}

func TestFromMachine(t *testing.T) {
	t.Parallel()

	if got, err := FromMachine("aarch64"); err != nil || got != ARM64 {
		t.Fatalf("FromMachine(aarch64) = %q, %v", got, err)
	}
	if _, err := FromMachine("riscv64"); err == nil {
		t.Fatalf("FromMachine(riscv64) expected error")
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := Parse("ppc64el"); err == nil {
		t.Fatalf("Parse() expected error")
	}
}
