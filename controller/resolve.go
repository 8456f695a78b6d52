package controller

import (
	"path"
	"strings"
)

// ResolvePolicy controls how logical file names resolve against a job's
// locally available files. A logical reference may omit or vary its
// extension; resolution tries the literal name first, then the fallback
// extensions in priority order — first match wins.
type ResolvePolicy struct {
	// Extensions is the ordered fallback extension list.
	Extensions []string
	// CaseSensitive disables case folding during matching.
	CaseSensitive bool
}

// DefaultResolvePolicy matches the priority order the renderer has
// always used: literal, then .wav, .ogg, .mp3, case-insensitive.
func DefaultResolvePolicy() ResolvePolicy {
	return ResolvePolicy{
		Extensions: []string{".wav", ".ogg", ".mp3"},
	}
}

// FileIndex is a job's file set prepared for repeated resolution under
// one policy.
type FileIndex struct {
	policy ResolvePolicy
	files  map[string][]byte
}

// NewIndex prepares files for resolution under the policy.
func (p ResolvePolicy) NewIndex(files map[string][]byte) *FileIndex {
	ix := &FileIndex{
		policy: p,
		files:  make(map[string][]byte, len(files)),
	}
	for name, buf := range files {
		ix.files[p.key(name)] = buf
	}
	return ix
}

func (p ResolvePolicy) key(name string) string {
	if p.CaseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// Resolve returns the bytes for a logical name, trying the literal name
// first and then each fallback extension against the name's stem. The
// boolean is false when nothing matches; absence is not an error.
func (ix *FileIndex) Resolve(name string) ([]byte, bool) {
	if buf, ok := ix.files[ix.policy.key(name)]; ok {
		return buf, true
	}
	stem := strings.TrimSuffix(name, path.Ext(name))
	for _, ext := range ix.policy.Extensions {
		if buf, ok := ix.files[ix.policy.key(stem+ext)]; ok {
			return buf, true
		}
	}
	return nil, false
}
