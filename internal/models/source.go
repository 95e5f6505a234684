package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SourceKind identifies how a source is enumerated.
type SourceKind string

const (
	// SourceRepository is a source tree walked recursively, skipping VCS metadata.
	SourceRepository SourceKind = "repository"
	// SourceVault is a note vault walked recursively, restricted to document extensions.
	SourceVault SourceKind = "vault"
	// SourceList is an explicit set of files; nothing is traversed.
	SourceList SourceKind = "list"
)

// ParseSourceKind accepts the long and short names used on the command line.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "repository", "repo", "repos":
		return SourceRepository, nil
	case "vault", "vaults":
		return SourceVault, nil
	case "list", "files":
		return SourceList, nil
	default:
		return "", fmt.Errorf("unknown source kind %q (want repository, vault or list)", s)
	}
}

// SourceDescriptor identifies where files come from and which of them are candidates.
type SourceDescriptor struct {
	Kind       SourceKind `json:"kind"`
	Root       string     `json:"root"`
	Name       string     `json:"name,omitempty"`
	Paths      []string   `json:"paths,omitempty"`
	Include    []string   `json:"include,omitempty"`
	Exclude    []string   `json:"exclude,omitempty"`
	MaxDepth   int        `json:"max_depth,omitempty"`
	Extensions []string   `json:"extensions,omitempty"`
}

// Validate checks that the descriptor can be scanned.
func (s *SourceDescriptor) Validate() error {
	switch s.Kind {
	case SourceRepository, SourceVault:
		if s.Root == "" {
			return fmt.Errorf("%s source requires a root path", s.Kind)
		}
	case SourceList:
		if len(s.Paths) == 0 {
			return fmt.Errorf("list source requires at least one path")
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	if s.MaxDepth < 0 {
		return fmt.Errorf("max depth cannot be negative")
	}
	return nil
}

// Clone returns a deep copy so a running scan is unaffected by later edits.
func (s SourceDescriptor) Clone() SourceDescriptor {
	c := s
	c.Paths = append([]string(nil), s.Paths...)
	c.Include = append([]string(nil), s.Include...)
	c.Exclude = append([]string(nil), s.Exclude...)
	c.Extensions = append([]string(nil), s.Extensions...)
	return c
}

// DisplayName returns Name, or the base name of Root when Name is empty.
func (s *SourceDescriptor) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Root != "" {
		return filepath.Base(filepath.Clean(s.Root))
	}
	return string(s.Kind)
}
