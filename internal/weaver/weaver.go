// Package weaver orchestrates a whole-tree weave: it loads the compiled
// mixin classes, walks the target class tree and runs the applicator over
// every class a mixin targets, writing the transformed tree to the output
// directory.
package weaver

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/standardbeagle/jweave/internal/apply"
	"github.com/standardbeagle/jweave/internal/classfile"
	"github.com/standardbeagle/jweave/internal/config"
	"github.com/standardbeagle/jweave/internal/debug"
	"github.com/standardbeagle/jweave/internal/hierarchy"
	"github.com/standardbeagle/jweave/internal/inject"
	"github.com/standardbeagle/jweave/internal/refmap"
)

// DirSource resolves class bytes for hierarchy lookups from the target tree
// first, then the mixin tree.
type DirSource struct {
	Dirs []string
}

// ClassBytes implements hierarchy.ClassSource.
func (s *DirSource) ClassBytes(name string) ([]byte, error) {
	rel := filepath.FromSlash(name) + ".class"
	for _, dir := range s.Dirs {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		if err == nil {
			return data, nil
		}
	}
	return nil, fmt.Errorf("class %s not found under %v", name, s.Dirs)
}

// Stats summarizes one weave run.
type Stats struct {
	Transformed int
	Copied      int
	Excluded    int
	Mixins      int
}

// Weaver holds the per-run state shared across class transforms.
type Weaver struct {
	cfg    *config.Config
	ap     *apply.Applicator
	mixins []*apply.Mixin

	// transforms share the hierarchy cache, whose lazy resolution is not
	// internally locked; file IO and parsing run in parallel, the transform
	// itself is serialized
	mu sync.Mutex
}

// New builds a weaver from a validated configuration: refmap overlays
// loaded, hierarchy cache wired to the class trees, applicator policy knobs
// translated, mixin classes parsed and registered.
func New(cfg *config.Config) (*Weaver, error) {
	rm := refmap.NewRefMap()
	for _, path := range cfg.RefMaps {
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Project.Root, path)
		}
		if err := rm.LoadTOMLFile(path); err != nil {
			return nil, err
		}
	}

	classes := filepath.Join(cfg.Project.Root, cfg.Paths.Classes)
	mixinDir := filepath.Join(cfg.Project.Root, cfg.Paths.Mixins)
	cache := hierarchy.NewCache(&DirSource{Dirs: []string{classes, mixinDir}})

	ap := apply.New(cache, rm)
	ap.Export = cfg.Apply.Export
	ap.Permissive = cfg.Apply.Permissive
	if cfg.Apply.InitMode == "safe" {
		ap.InitMode = apply.InitModeSafe
	}
	switch cfg.Apply.Capture {
	case "soft":
		ap.Capture = inject.CaptureFailSoft
	case "stub":
		ap.Capture = inject.CaptureFailStub
	}

	w := &Weaver{cfg: cfg, ap: ap}
	if err := w.loadMixins(mixinDir); err != nil {
		return nil, err
	}
	return w, nil
}

// loadMixins parses every class under the mixin tree. Classes without a
// mixin annotation are companions (callback runtime, helper types) and are
// skipped.
func (w *Weaver) loadMixins(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".class") {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		node, err := classfile.Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse mixin class %s: %w", path, err)
		}
		mx, err := apply.MixinFromAnnotation(node)
		if err != nil {
			debug.LogApply(debug.LevelDebug, "skipping %s: %v", node.Name, err)
			return nil
		}
		debug.LogApply(debug.LevelInfo, "loaded mixin %s -> %v (priority %d)",
			node.Name, mx.Targets, mx.Priority)
		w.mixins = append(w.mixins, mx)
		return nil
	})
	if os.IsNotExist(err) {
		return fmt.Errorf("mixin tree %s does not exist", dir)
	}
	return err
}

// MixinCount returns the number of loaded mixins.
func (w *Weaver) MixinCount() int { return len(w.mixins) }

// Run weaves the whole class tree. Classes no mixin targets are copied
// through byte-identical; excluded classes are not written at all.
func (w *Weaver) Run(ctx context.Context) (Stats, error) {
	classes := filepath.Join(w.cfg.Project.Root, w.cfg.Paths.Classes)
	output := filepath.Join(w.cfg.Project.Root, w.cfg.Paths.Output)

	var (
		statsMu sync.Mutex
		stats   = Stats{Mixins: len(w.mixins)}
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Apply.Workers)

	walkErr := filepath.WalkDir(classes, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".class") {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(classes, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !w.cfg.ShouldProcess(rel) {
			statsMu.Lock()
			stats.Excluded++
			statsMu.Unlock()
			return nil
		}
		g.Go(func() error {
			transformed, err := w.weaveOne(path, filepath.Join(output, filepath.FromSlash(rel)))
			if err != nil {
				return err
			}
			statsMu.Lock()
			if transformed {
				stats.Transformed++
			} else {
				stats.Copied++
			}
			statsMu.Unlock()
			return nil
		})
		return nil
	})
	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, walkErr
}

// weaveOne processes a single class file, reporting whether any mixin
// applied to it.
func (w *Weaver) weaveOne(src, dst string) (bool, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return false, err
	}
	node, err := classfile.Parse(data)
	if err != nil {
		return false, fmt.Errorf("failed to parse %s: %w", src, err)
	}

	targeted := false
	for _, mx := range w.mixins {
		if mx.TargetsClass(node.Name) {
			targeted = true
			break
		}
	}
	if targeted {
		w.mu.Lock()
		err = w.ap.Transform(node, w.mixins)
		w.mu.Unlock()
		if err != nil {
			return false, fmt.Errorf("failed to transform %s: %w", node.Name, err)
		}
		if data, err = classfile.Write(node); err != nil {
			return false, fmt.Errorf("failed to encode %s: %w", node.Name, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return false, err
	}
	return targeted, nil
}
