package build

// Request describes one build of the app or of its libraries.
type Request struct {
	// Clean removes the build directory first.
	Clean bool
	Debug bool
	// Output receives a copy of the app install directory when set.
	Output string
	// Libraries restricts a library build or clean to these names. Empty
	// means all libraries.
	Libraries []string
}

// Result summarises a finished build.
type Result struct {
	Unit       string
	InstallDir string
	// Installed are the paths copied by the install_* keys.
	Installed []string
}
