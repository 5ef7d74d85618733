// Package schemafmt validates the format version carried by editor
// configuration files.
package schemafmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// SupportedMajor is the only configuration format major version this
	// build understands.
	SupportedMajor = 1

	// CurrentVersion is written by tools that emit configurations.
	CurrentVersion = "1.0.0"
)

var semverPattern = regexp.MustCompile(
	`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)` +
		`(?:-((?:0|[1-9][0-9]*|[0-9A-Za-z-]*[A-Za-z-][0-9A-Za-z-]*)` +
		`(?:\.(?:0|[1-9][0-9]*|[0-9A-Za-z-]*[A-Za-z-][0-9A-Za-z-]*))*))?` +
		`(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// Version is a parsed SemVer 2.0.0 version.
type Version struct {
	Major, Minor, Patch int
	Prerelease          string
	Build               string
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// ParseVersion parses a SemVer 2.0.0 string.
func ParseVersion(raw string) (Version, error) {
	match := semverPattern.FindStringSubmatch(strings.TrimSpace(raw))
	if match == nil {
		return Version{}, fmt.Errorf("version %q must be a valid semantic version (MAJOR.MINOR.PATCH)", raw)
	}
	var v Version
	for i, dst := range []*int{&v.Major, &v.Minor, &v.Patch} {
		n, err := strconv.Atoi(match[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("parsing version %q: %w", raw, err)
		}
		*dst = n
	}
	v.Prerelease = match[4]
	v.Build = match[5]
	return v, nil
}

// ValidateVersion checks an optional configuration version. An empty
// version is accepted and means CurrentVersion.
func ValidateVersion(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return err
	}
	if v.Major != SupportedMajor {
		return fmt.Errorf("version %q has unsupported major %d (supported: %d.x.x)", raw, v.Major, SupportedMajor)
	}
	return nil
}
