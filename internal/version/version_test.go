package version

import "testing"

func TestParse(t *testing.T) {
	t.Parallel()

	got, err := Parse("7.1.12")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got.String() != "7.1.12" {
		t.Fatalf("String() = %q", got.String())
	}

	for _, bad := range []string{"", "7.", "v7", "7.a", "7..1"} {
		if _, err := Parse(bad); err == nil {
			t.Fatalf("Parse(%q) expected error", bad)
		}
	}
}

func TestLessThan(t *testing.T) {
	t.Parallel()

	cases := []struct {
		a, b string
		want bool
	}{
		{"7.1.0", "7.2", true},
		{"7.2.0", "7.1.9", false},
		{"7", "7.5", false},
		{"6.99", "7", true},
		{"7.1", "7.1", false},
	}
	for _, tc := range cases {
		a, _ := Parse(tc.a)
		b, _ := Parse(tc.b)
		if got := a.LessThan(b); got != tc.want {
			t.Fatalf("%s.LessThan(%s) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}
