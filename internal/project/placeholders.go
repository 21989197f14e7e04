package project

import (
	"regexp"
	"strings"

	"github.com/cochaviz/clickable/internal/placeholder"
)

// appPlaceholders is the token table of the app. Library tokens are appended
// during resolution.
var appPlaceholders = placeholder.Table{
	{Token: "SDK_FRAMEWORK", Key: "framework"},
	{Token: "QT_VERSION", Key: "qt_version"},
	{Token: "ARCH", Key: "arch"},
	{Token: "ARCH_TRIPLET", Key: "arch_triplet"},
	{Token: "NUM_PROCS", Key: "make_jobs"},
	{Token: "ROOT", Key: "root_dir"},
	{Token: "BUILD_DIR", Key: "build_dir"},
	{Token: "SRC_DIR", Key: "src_dir"},
	{Token: "INSTALL_DIR", Key: "install_dir"},
	{Token: "CLICK_LD_LIBRARY_PATH", Key: "app_lib_dir"},
	{Token: "CLICK_PATH", Key: "app_bin_dir"},
	{Token: "CLICK_QML2_IMPORT_PATH", Key: "app_qml_dir"},
}

// appFields are visited in this order; later fields see earlier results.
var appFields = []placeholder.Field{
	{Key: "root_dir", Path: true},
	{Key: "build_dir", Path: true},
	{Key: "src_dir", Path: true},
	{Key: "install_dir", Path: true},
	{Key: "app_lib_dir", Path: true},
	{Key: "app_bin_dir", Path: true},
	{Key: "app_qml_dir", Path: true},
	{Key: "gopath"},
	{Key: "cargo_home", Path: true},
	{Key: "scripts"},
	{Key: "build"},
	{Key: "build_args"},
	{Key: "make_args"},
	{Key: "postmake"},
	{Key: "postbuild"},
	{Key: "prebuild"},
	{Key: "rustup_home", Path: true},
	{Key: "install_lib"},
	{Key: "install_bin"},
	{Key: "install_qml"},
	{Key: "install_data", MapKeys: true},
	{Key: "env_vars"},
	{Key: "build_home", Path: true},
}

var libPlaceholders = placeholder.Table{
	{Token: "ARCH", Key: "arch"},
	{Token: "ARCH_TRIPLET", Key: "arch_triplet"},
	{Token: "ARCH_RUST", Key: "arch_rust"},
	{Token: "NAME", Key: "name"},
	{Token: "NUM_PROCS", Key: "make_jobs"},
	{Token: "ROOT", Key: "root_dir"},
	{Token: "BUILD_DIR", Key: "build_dir"},
	{Token: "SRC_DIR", Key: "src_dir"},
	{Token: "INSTALL_DIR", Key: "install_dir"},
}

var libFields = []placeholder.Field{
	{Key: "root_dir", Path: true},
	{Key: "build_dir", Path: true},
	{Key: "src_dir", Path: true},
	{Key: "install_dir", Path: true},
	{Key: "cargo_home", Path: true},
	{Key: "build"},
	{Key: "build_args"},
	{Key: "make_args"},
	{Key: "postmake"},
	{Key: "postbuild"},
	{Key: "prebuild"},
	{Key: "env_vars"},
	{Key: "build_home", Path: true},
	{Key: "dependencies_host"},
	{Key: "dependencies_target"},
	{Key: "dependencies_ppa"},
}

// libraryKeys are the library values other units can reference.
var libraryKeys = []struct {
	suffix string
	key    string
}{
	{"INSTALL_DIR", "install_dir"},
	{"BUILD_DIR", "build_dir"},
	{"SRC_DIR", "src_dir"},
}

var nonConform = regexp.MustCompile(`[^A-Z0-9_]`)

// EnvConform turns name into a valid environment variable name.
func EnvConform(name string) string {
	return nonConform.ReplaceAllString(strings.ToUpper(name), "_")
}

// libraryEntries returns the tokens exposing lib to other units, and the
// values backing them.
func libraryEntries(lib *Config) (placeholder.Table, map[string]string) {
	values := lib.values()
	conform := EnvConform(lib.Name)

	var table placeholder.Table
	extra := map[string]string{}
	for _, ref := range libraryKeys {
		key := "lib/" + lib.Name + "/" + ref.key
		table = append(table, placeholder.Entry{Token: conform + "_LIB_" + ref.suffix, Key: key})
		extra[key], _ = text(values[ref.key])
	}
	return table, extra
}
