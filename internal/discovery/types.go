package discovery

import "errors"

// ErrNoRule is returned by Target when no archive maps to the output.
var ErrNoRule = errors.New("no rule to make target")

// ScanConfig controls where archives are found and where outputs go.
type ScanConfig struct {
	InputDir  string
	OutputDir string
	// Pattern is the doublestar glob matched against paths relative to
	// InputDir. Defaults to any .zip file, in any letter case.
	Pattern string
	// OutputExt replaces the archive extension. Defaults to ".log".
	OutputExt string
}
