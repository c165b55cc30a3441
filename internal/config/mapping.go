package config

import (
	"fmt"
	"strings"
)

// mappingSeparatorCount is the number of ':' separators in a mapping line.
const mappingSeparatorCount = 2

// Triplet is one parsed "a:b:c" mapping line. For path_mappings the fields
// are (local, remote source, remote dest); for descriptor_path_mappings they
// are (remote dest, descriptor source, descriptor local).
type Triplet struct {
	Key    string
	Source string
	Target string
}

// ParseTriplet parses a single "a:b:c" mapping line. Surrounding whitespace
// on each part is trimmed; every part must be non-empty.
func ParseTriplet(line string) (Triplet, error) {
	line = strings.TrimSpace(line)

	if strings.Count(line, ":") != mappingSeparatorCount {
		return Triplet{}, fmt.Errorf("invalid mapping %q: expected exactly three ':'-separated paths", line)
	}

	parts := strings.SplitN(line, ":", mappingSeparatorCount+1)
	t := Triplet{
		Key:    strings.TrimSpace(parts[0]),
		Source: strings.TrimSpace(parts[1]),
		Target: strings.TrimSpace(parts[2]),
	}

	if t.Key == "" || t.Source == "" || t.Target == "" {
		return Triplet{}, fmt.Errorf("invalid mapping %q: empty path", line)
	}

	return t, nil
}

// ParseTriplets parses mapping lines in order, skipping blank lines. Every
// malformed line is reported.
func ParseTriplets(lines []string) ([]Triplet, []error) {
	var (
		out  []Triplet
		errs []error
	)

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		t, err := ParseTriplet(line)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		out = append(out, t)
	}

	return out, errs
}

// String renders the triplet back to its config form.
func (t Triplet) String() string {
	return t.Key + ":" + t.Source + ":" + t.Target
}
