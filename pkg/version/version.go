package version

import "fmt"

// Version represents the current version of the qtspy injector.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// QtSpyVersion is the current version of the qtspy injector.
var QtSpyVersion = Version{Major: "0", Minor: "3", Patch: "0", Metadata: ""}

func (v Version) String() string {
	ver := fmt.Sprintf("Version: %s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	if v.Build != "" {
		ver += "\nBuild: " + v.Build
	}
	return ver
}
