package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/hyperjump/wembed/internal/config"
	"github.com/hyperjump/wembed/internal/models"
	"github.com/hyperjump/wembed/internal/runner"
	"github.com/hyperjump/wembed/internal/scanner"
)

// sourceFlags are the flags shared by scan and run.
type sourceFlags struct {
	name       string
	include    []string
	exclude    []string
	extensions []string
	maxDepth   int
	discover   bool
}

func (f *sourceFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.name, "name", "", "display name for the source")
	flags.StringSliceVar(&f.include, "include", nil, "glob patterns a file must match (repeatable)")
	flags.StringSliceVar(&f.exclude, "exclude", nil, "glob patterns to skip (repeatable)")
	flags.StringSliceVar(&f.extensions, "ext", nil, "file extensions to keep, e.g. .md,.txt")
	flags.IntVar(&f.maxDepth, "max-depth", 0, "maximum directory depth (0 = unlimited)")
	flags.BoolVar(&f.discover, "discover", false, "treat each path as a base directory and scan every repository or vault found under it")
}

func (f *sourceFlags) reset() {
	*f = sourceFlags{}
}

// sources turns a kind argument and paths into descriptors ready to scan.
func (f *sourceFlags) sources(kindArg string, paths []string, cfg *config.Config) ([]models.SourceDescriptor, error) {
	kind, err := models.ParseSourceKind(kindArg)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s source needs at least one path", kind)
	}
	base := models.SourceDescriptor{
		Kind:       kind,
		Name:       f.name,
		Include:    f.include,
		Exclude:    f.exclude,
		Extensions: f.extensions,
		MaxDepth:   f.maxDepth,
	}

	var out []models.SourceDescriptor
	switch {
	case kind == models.SourceList:
		src := base.Clone()
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, err
			}
			src.Paths = append(src.Paths, abs)
		}
		out = append(out, src)
	case f.discover:
		marker := scanner.RepositoryMarker
		if kind == models.SourceVault {
			marker = cfg.Scan.VaultMarker
		}
		for _, p := range paths {
			roots, err := scanner.DiscoverRoots(p, marker)
			if err != nil {
				return nil, fmt.Errorf("discover %s: %w", p, err)
			}
			for _, root := range roots {
				src := base.Clone()
				src.Root = root
				src.Name = ""
				out = append(out, src)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no %s found under %v (marker %s)", kind, paths, marker)
		}
	default:
		for _, p := range paths {
			src := base.Clone()
			src.Root = p
			if len(paths) > 1 {
				src.Name = ""
			}
			out = append(out, src)
		}
	}

	for i := range out {
		out[i] = runner.WithScanDefaults(out[i], cfg)
		if err := out[i].Validate(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
