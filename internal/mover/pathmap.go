package mover

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// MappingRule translates a local prefix into a remote source and destination
// prefix.
type MappingRule struct {
	LocalPrefix        string
	RemoteSourcePrefix string
	RemoteDestPrefix   string
}

// DescriptorMappingRule translates a remote destination prefix into the
// directory where the server generates descriptors and the directory they
// are mirrored into.
type DescriptorMappingRule struct {
	RemoteDestPrefix       string
	DescriptorSourcePrefix string
	DescriptorLocalPrefix  string
}

// PathMapper resolves paths against ordered rule lists. The longest matching
// prefix wins; equal-length matches resolve to the first configured rule.
// Rules are immutable after construction.
type PathMapper struct {
	move       []MappingRule
	descriptor []DescriptorMappingRule
}

// NewPathMapper cleans every prefix and returns a mapper over the rules.
func NewPathMapper(move []MappingRule, descriptor []DescriptorMappingRule) *PathMapper {
	m := &PathMapper{
		move:       make([]MappingRule, 0, len(move)),
		descriptor: make([]DescriptorMappingRule, 0, len(descriptor)),
	}

	for _, r := range move {
		m.move = append(m.move, MappingRule{
			LocalPrefix:        filepath.Clean(r.LocalPrefix),
			RemoteSourcePrefix: cleanRemote(r.RemoteSourcePrefix),
			RemoteDestPrefix:   cleanRemote(r.RemoteDestPrefix),
		})
	}

	for _, r := range descriptor {
		m.descriptor = append(m.descriptor, DescriptorMappingRule{
			RemoteDestPrefix:       cleanRemote(r.RemoteDestPrefix),
			DescriptorSourcePrefix: cleanRemote(r.DescriptorSourcePrefix),
			DescriptorLocalPrefix:  filepath.Clean(r.DescriptorLocalPrefix),
		})
	}

	return m
}

// ResolveMove maps a local file path to its remote source and destination
// file paths.
func (m *PathMapper) ResolveMove(localPath string) (src, dst string, err error) {
	localPath = filepath.Clean(localPath)

	best := -1
	bestLen := -1

	for i, r := range m.move {
		if !hasPathPrefix(localPath, r.LocalPrefix, string(filepath.Separator)) {
			continue
		}

		if len(r.LocalPrefix) > bestLen {
			best, bestLen = i, len(r.LocalPrefix)
		}
	}

	if best < 0 {
		return "", "", fmt.Errorf("%w: %s", ErrNoMappingFound, localPath)
	}

	r := m.move[best]
	rel := filepath.ToSlash(strings.TrimPrefix(localPath, r.LocalPrefix))

	return path.Join(r.RemoteSourcePrefix, rel), path.Join(r.RemoteDestPrefix, rel), nil
}

// ResolveDescriptor maps a remote destination path to the matching path in
// the descriptor source tree and in the descriptor target tree.
func (m *PathMapper) ResolveDescriptor(remoteDest string) (descSrc, descLocal string, err error) {
	remoteDest = cleanRemote(remoteDest)

	best := -1
	bestLen := -1

	for i, r := range m.descriptor {
		if !hasPathPrefix(remoteDest, r.RemoteDestPrefix, "/") {
			continue
		}

		if len(r.RemoteDestPrefix) > bestLen {
			best, bestLen = i, len(r.RemoteDestPrefix)
		}
	}

	if best < 0 {
		return "", "", fmt.Errorf("%w: %s", ErrNoDescriptorMapping, remoteDest)
	}

	r := m.descriptor[best]
	rel := strings.TrimPrefix(remoteDest, r.RemoteDestPrefix)

	return path.Join(r.DescriptorSourcePrefix, rel), filepath.Join(r.DescriptorLocalPrefix, filepath.FromSlash(rel)), nil
}

// hasPathPrefix reports whether p equals prefix or lies beneath it on a
// segment boundary, so "/watch" does not match "/watcher/x".
func hasPathPrefix(p, prefix, sep string) bool {
	if p == prefix {
		return true
	}

	if strings.HasSuffix(prefix, sep) {
		return strings.HasPrefix(p, prefix)
	}

	return strings.HasPrefix(p, prefix+sep)
}

func cleanRemote(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}
