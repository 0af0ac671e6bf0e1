package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseVersion parses a payload version of the form "MAJOR.MINOR" (a trailing
// patch component is tolerated and ignored). Payload schemas evolve
// additively: a MINOR bump may only add optional fields, a MAJOR bump is a
// breaking change carried under its own routing identity.
func ParseVersion(v string) (major, minor int, err error) {
	parts := strings.Split(strings.TrimSpace(v), ".")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, fmt.Errorf("malformed payload version %q", v)
	}

	major, err = strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return 0, 0, fmt.Errorf("malformed payload version %q", v)
	}

	minor, err = strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return 0, 0, fmt.Errorf("malformed payload version %q", v)
	}

	return major, minor, nil
}
