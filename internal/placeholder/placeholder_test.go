package placeholder

import (
	"reflect"
	"testing"
)

var appTable = Table{
	{Token: "ARCH", Key: "arch"},
	{Token: "ARCH_TRIPLET", Key: "arch_triplet"},
	{Token: "ROOT", Key: "root_dir"},
	{Token: "BUILD_DIR", Key: "build_dir"},
	{Token: "INSTALL_DIR", Key: "install_dir"},
}

var appFields = []Field{
	{Key: "root_dir", Path: true},
	{Key: "build_dir", Path: true},
	{Key: "install_dir", Path: true},
	{Key: "build_args"},
	{Key: "env_vars"},
	{Key: "install_data", MapKeys: true},
}

func TestSubstituteChainsDefaults(t *testing.T) {
	t.Parallel()

	values := map[string]any{
		"arch":         "armhf",
		"arch_triplet": "arm-linux-gnueabihf",
		"root_dir":     "/src/app",
		"build_dir":    "${ROOT}/build/${ARCH_TRIPLET}/app",
		"install_dir":  "${BUILD_DIR}/install",
		"build_args":   []string{"-DARCH=$ARCH", "-DTRIPLET=$ARCH_TRIPLET"},
		"env_vars":     map[string]string{"PREFIX": "${INSTALL_DIR}"},
		"install_data": map[string]string{"${BUILD_DIR}/data.txt": "${ROOT}"},
	}

	result := Substitute(values, appFields, appTable, "/src/app")

	if len(result.Skipped) != 0 {
		t.Fatalf("Skipped = %v, want none", result.Skipped)
	}
	want := map[string]any{
		"arch":         "armhf",
		"arch_triplet": "arm-linux-gnueabihf",
		"root_dir":     "/src/app",
		"build_dir":    "/src/app/build/arm-linux-gnueabihf/app",
		"install_dir":  "/src/app/build/arm-linux-gnueabihf/app/install",
		"build_args":   []string{"-DARCH=armhf", "-DTRIPLET=arm-linux-gnueabihf"},
		"env_vars":     map[string]string{"PREFIX": "/src/app/build/arm-linux-gnueabihf/app/install"},
		"install_data": map[string]string{"/src/app/build/arm-linux-gnueabihf/app/data.txt": "${ROOT}"},
	}
	if !reflect.DeepEqual(result.Values, want) {
		t.Fatalf("Substitute() = %#v\nwant %#v", result.Values, want)
	}
}

func TestSubstituteDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	args := []string{"$ARCH"}
	values := map[string]any{"arch": "arm64", "build_args": args}

	Substitute(values, appFields, appTable, "/")

	if args[0] != "$ARCH" {
		t.Fatalf("input slice mutated: %v", args)
	}
}

func TestSubstituteIsIdempotent(t *testing.T) {
	t.Parallel()

	values := map[string]any{
		"arch":         "amd64",
		"arch_triplet": "x86_64-linux-gnu",
		"root_dir":     ".",
		"build_dir":    "build/$ARCH_TRIPLET",
		"install_dir":  "$BUILD_DIR/install",
		"build_args":   []string{"$ARCH"},
	}

	once := Substitute(values, appFields, appTable, "/work")
	twice := Substitute(once.Values, appFields, appTable, "/work")

	if !reflect.DeepEqual(once.Values, twice.Values) {
		t.Fatalf("second pass changed values:\n%#v\n%#v", once.Values, twice.Values)
	}
}

func TestSubstituteSkipsEmptySource(t *testing.T) {
	t.Parallel()

	values := map[string]any{
		"arch":       "",
		"build_args": []string{"--arch=${ARCH}"},
		"build_dir":  "${ROOT}/build",
	}

	result := Substitute(values, appFields, appTable, "/p")

	if got := result.Values["build_args"].([]string)[0]; got != "--arch=${ARCH}" {
		t.Fatalf("build_args = %q, want untouched", got)
	}
	if got := result.Values["build_dir"]; got != "${ROOT}/build" {
		t.Fatalf("build_dir = %q, unresolved path must not be made absolute", got)
	}
	want := []Skip{{Field: "build_dir", Token: "ROOT"}, {Field: "build_args", Token: "ARCH"}}
	if !reflect.DeepEqual(result.Skipped, want) {
		t.Fatalf("Skipped = %v, want %v", result.Skipped, want)
	}
}

func TestSubstituteIsSinglePass(t *testing.T) {
	t.Parallel()

	table := Table{
		{Token: "A", Key: "a"},
		{Token: "B", Key: "b"},
	}
	values := map[string]any{
		"a":   "${B}",
		"b":   "bee",
		"out": "${A}",
	}

	result := Substitute(values, []Field{{Key: "out"}}, table, "/")

	// The value of A references B, which is expanded because B comes later in
	// the table. Reversing the table leaves it unresolved.
	if got := result.Values["out"]; got != "bee" {
		t.Fatalf("out = %q, want bee", got)
	}

	reversed := Table{table[1], table[0]}
	result = Substitute(values, []Field{{Key: "out"}}, reversed, "/")
	if got := result.Values["out"]; got != "${B}" {
		t.Fatalf("out = %q, want ${B}", got)
	}
}

func TestReplaceRespectsIdentifierBoundary(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"$ARCH", "armhf"},
		{"$ARCH_TRIPLET", "$ARCH_TRIPLET"},
		{"${ARCH}_x", "armhf_x"},
		{"a/$ARCH/b", "a/armhf/b"},
		{"$ARCH$ARCH", "armhfarmhf"},
	}
	for _, tc := range cases {
		if got := Replace(tc.in, "ARCH", "armhf"); got != tc.want {
			t.Fatalf("Replace(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTableWithReplacesExistingToken(t *testing.T) {
	t.Parallel()

	table := Table{{Token: "ROOT", Key: "root_dir"}, {Token: "ARCH", Key: "arch"}}
	got := table.With(Entry{Token: "ROOT", Key: "other"}, Entry{Token: "NAME", Key: "name"})

	want := []string{"ROOT", "ARCH", "NAME"}
	if !reflect.DeepEqual(got.Tokens(), want) {
		t.Fatalf("Tokens() = %v, want %v", got.Tokens(), want)
	}
	if got[0].Key != "other" {
		t.Fatalf("ROOT key = %q, want other", got[0].Key)
	}
	if table[0].Key != "root_dir" {
		t.Fatalf("With() mutated receiver")
	}
}
