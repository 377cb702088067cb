package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// ConfigFileName is the project configuration file looked up in the project
// root.
const ConfigFileName = ".jweave.kdl"

// LoadKDL loads .jweave.kdl from the project root. A missing file is not an
// error; the defaults apply unchanged. Relative paths in the file resolve
// against the directory containing it.
func LoadKDL(projectRoot string) (*Config, error) {
	path := filepath.Join(projectRoot, ConfigFileName)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		cfg := Default()
		cfg.Project.Root = absOrSelf(projectRoot)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := ParseKDL(string(content))
	if err != nil {
		return nil, err
	}
	if cfg.Project.Root == "" || cfg.Project.Root == "." {
		cfg.Project.Root = absOrSelf(projectRoot)
	} else if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(projectRoot, cfg.Project.Root))
	}
	return cfg, nil
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// ParseKDL parses configuration text over the defaults.
func ParseKDL(content string) (*Config, error) {
	cfg := Default()

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", ConfigFileName, err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children {
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "apply":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "export":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Apply.Export = b
					}
				case "init_mode":
					if s, ok := firstStringArg(cn); ok {
						cfg.Apply.InitMode = s
					}
				case "capture":
					if s, ok := firstStringArg(cn); ok {
						cfg.Apply.Capture = s
					}
				case "permissive":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Apply.Permissive = b
					}
				case "workers":
					if v, ok := firstIntArg(cn); ok {
						cfg.Apply.Workers = v
					}
				}
			}
		case "paths":
			for _, cn := range n.Children {
				assignSimpleString(cn, "classes", func(v string) { cfg.Paths.Classes = v })
				assignSimpleString(cn, "mixins", func(v string) { cfg.Paths.Mixins = v })
				assignSimpleString(cn, "output", func(v string) { cfg.Paths.Output = v })
			}
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.Enabled = b
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.DebounceMs = v
					}
				}
			}
		case "debug":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "level":
					if s, ok := firstStringArg(cn); ok {
						cfg.Debug.Level = s
					}
				case "log_file":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Debug.LogFile = b
					}
				}
			}
		case "refmaps":
			cfg.RefMaps = append(cfg.RefMaps, collectStringArgs(n)...)
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			cfg.Exclude = append(cfg.Exclude, collectStringArgs(n)...)
		}
	}
	return cfg, nil
}

// Helpers over the kdl-go document model.

func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

// collectStringArgs gathers string values from inline arguments or, for
// block form, from child nodes.
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}
