package project

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// removedKeywords are rejected with a dedicated message instead of the generic
// unknown field error.
var removedKeywords = []string{
	"chroot", "sdk", "package", "app", "premake", "ssh", "dependencies",
	"specificDependencies", "dir", "lxd", "arch", "template",
	"dependencies_build", "dirty",
}

// removedHints name the replacement of a removed keyword.
var removedHints = map[string]string{
	"arch": "set restrict_arch in the project file or pass --arch",
}

// File is the schema of clickable.yaml / clickable.json.
type File struct {
	MinimumRequired    string                 `yaml:"clickable_minimum_required" json:"clickable_minimum_required"`
	RestrictArch       string                 `yaml:"restrict_arch" json:"restrict_arch"`
	Builder            string                 `yaml:"builder" json:"builder"`
	Prebuild           FlexList               `yaml:"prebuild" json:"prebuild"`
	Build              FlexList               `yaml:"build" json:"build"`
	Postmake           FlexList               `yaml:"postmake" json:"postmake"`
	Postbuild          FlexList               `yaml:"postbuild" json:"postbuild"`
	Launch             string                 `yaml:"launch" json:"launch"`
	BuildDir           string                 `yaml:"build_dir" json:"build_dir"`
	BuildHome          string                 `yaml:"build_home" json:"build_home"`
	SrcDir             string                 `yaml:"src_dir" json:"src_dir"`
	RootDir            string                 `yaml:"root_dir" json:"root_dir"`
	InstallDir         string                 `yaml:"install_dir" json:"install_dir"`
	Kill               string                 `yaml:"kill" json:"kill"`
	Scripts            map[string]string      `yaml:"scripts" json:"scripts"`
	Default            FlexList               `yaml:"default" json:"default"`
	Log                string                 `yaml:"log" json:"log"`
	DependenciesHost   FlexList               `yaml:"dependencies_host" json:"dependencies_host"`
	DependenciesTarget FlexList               `yaml:"dependencies_target" json:"dependencies_target"`
	DependenciesPPA    FlexList               `yaml:"dependencies_ppa" json:"dependencies_ppa"`
	InstallLib         FlexList               `yaml:"install_lib" json:"install_lib"`
	InstallBin         FlexList               `yaml:"install_bin" json:"install_bin"`
	InstallQml         FlexList               `yaml:"install_qml" json:"install_qml"`
	InstallData        map[string]string      `yaml:"install_data" json:"install_data"`
	AppLibDir          string                 `yaml:"app_lib_dir" json:"app_lib_dir"`
	AppBinDir          string                 `yaml:"app_bin_dir" json:"app_bin_dir"`
	AppQmlDir          string                 `yaml:"app_qml_dir" json:"app_qml_dir"`
	Ignore             FlexList               `yaml:"ignore" json:"ignore"`
	MakeJobs           *int                   `yaml:"make_jobs" json:"make_jobs"`
	Gopath             string                 `yaml:"gopath" json:"gopath"`
	CargoHome          string                 `yaml:"cargo_home" json:"cargo_home"`
	RustupHome         string                 `yaml:"rustup_home" json:"rustup_home"`
	RustChannel        string                 `yaml:"rust_channel" json:"rust_channel"`
	DockerImage        string                 `yaml:"docker_image" json:"docker_image"`
	BuildArgs          FlexList               `yaml:"build_args" json:"build_args"`
	MakeArgs           FlexList               `yaml:"make_args" json:"make_args"`
	EnvVars            map[string]string      `yaml:"env_vars" json:"env_vars"`
	Libraries          map[string]LibraryFile `yaml:"libraries" json:"libraries"`
	Test               string                 `yaml:"test" json:"test"`
	ImageSetup         *ImageSetup            `yaml:"image_setup" json:"image_setup"`
	QtVersion          string                 `yaml:"qt_version" json:"qt_version"`
	Framework          string                 `yaml:"framework" json:"framework"`
	AlwaysClean        *bool                  `yaml:"always_clean" json:"always_clean"`
}

// LibraryFile is the schema of one entry below "libraries".
type LibraryFile struct {
	RestrictArch       string            `yaml:"restrict_arch" json:"restrict_arch"`
	Builder            string            `yaml:"builder" json:"builder"`
	Prebuild           FlexList          `yaml:"prebuild" json:"prebuild"`
	Build              FlexList          `yaml:"build" json:"build"`
	Postmake           FlexList          `yaml:"postmake" json:"postmake"`
	Postbuild          FlexList          `yaml:"postbuild" json:"postbuild"`
	BuildDir           string            `yaml:"build_dir" json:"build_dir"`
	BuildHome          string            `yaml:"build_home" json:"build_home"`
	SrcDir             string            `yaml:"src_dir" json:"src_dir"`
	InstallDir         string            `yaml:"install_dir" json:"install_dir"`
	DependenciesHost   FlexList          `yaml:"dependencies_host" json:"dependencies_host"`
	DependenciesTarget FlexList          `yaml:"dependencies_target" json:"dependencies_target"`
	DependenciesPPA    FlexList          `yaml:"dependencies_ppa" json:"dependencies_ppa"`
	MakeJobs           *int              `yaml:"make_jobs" json:"make_jobs"`
	CargoHome          string            `yaml:"cargo_home" json:"cargo_home"`
	RustChannel        string            `yaml:"rust_channel" json:"rust_channel"`
	DockerImage        string            `yaml:"docker_image" json:"docker_image"`
	BuildArgs          FlexList          `yaml:"build_args" json:"build_args"`
	MakeArgs           FlexList          `yaml:"make_args" json:"make_args"`
	EnvVars            map[string]string `yaml:"env_vars" json:"env_vars"`
	Test               string            `yaml:"test" json:"test"`
	ImageSetup         *ImageSetup       `yaml:"image_setup" json:"image_setup"`
}

// ImageSetup holds free-form commands and environment baked into a derived
// image.
type ImageSetup struct {
	Env map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Run FlexList          `yaml:"run,omitempty" json:"run,omitempty"`
}

// Empty reports whether the setup adds nothing to an image.
func (s *ImageSetup) Empty() bool {
	return s == nil || (len(s.Env) == 0 && len(s.Run.Items) == 0)
}

// GlobalFile is the schema of the user level config.yaml.
type GlobalFile struct {
	Device      GlobalDevice      `yaml:"device"`
	Build       GlobalBuild       `yaml:"build"`
	Environment GlobalEnvironment `yaml:"environment"`
	CLI         GlobalCLI         `yaml:"cli"`
}

type GlobalDevice struct {
	IPv4          string `yaml:"ipv4"`
	SSHPort       int    `yaml:"ssh_port"`
	SerialNumber  string `yaml:"serial_number"`
	DefaultTarget string `yaml:"default_target"`
	Arch          string `yaml:"arch"`
	SkipUninstall bool   `yaml:"skip_uninstall"`
}

type GlobalBuild struct {
	AlwaysClean bool   `yaml:"always_clean"`
	SkipReview  bool   `yaml:"skip_review"`
	DefaultArch string `yaml:"default_arch"`
}

type GlobalEnvironment struct {
	ContainerMode bool   `yaml:"container_mode"`
	RestrictArch  string `yaml:"restrict_arch"`
	Nvidia        *bool  `yaml:"nvidia"`
}

type GlobalCLI struct {
	DefaultChain FlexList `yaml:"default_chain"`
}

// FlexList accepts either a single string or a list of strings.
type FlexList struct {
	Items []string
	// Scalar is set when the value was written as a single string.
	Scalar bool
}

// Values returns the list. A scalar is split on whitespace when split is set
// and kept as a one element list otherwise.
func (l FlexList) Values(split bool) []string {
	if l.Scalar && split && len(l.Items) == 1 {
		return strings.Fields(l.Items[0])
	}
	out := make([]string, 0, len(l.Items))
	for _, item := range l.Items {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Set reports whether the list was present at all.
func (l FlexList) Set() bool {
	return l.Scalar || l.Items != nil
}

func (l *FlexList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil
		}
		l.Items = []string{node.Value}
		l.Scalar = true
		return nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(node.Content))
		for _, child := range node.Content {
			if child.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected string list entry", child.Line)
			}
			items = append(items, child.Value)
		}
		l.Items = items
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

func (l FlexList) MarshalYAML() (any, error) {
	return l.Items, nil
}

func (l *FlexList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var scalar string
	if err := json.Unmarshal(data, &scalar); err == nil {
		l.Items = []string{scalar}
		l.Scalar = true
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("expected string or list of strings")
	}
	l.Items = items
	return nil
}
