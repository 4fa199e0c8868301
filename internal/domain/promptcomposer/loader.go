package promptcomposer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Component is one hot-pluggable prompt module discovered from a .md file
// with YAML frontmatter, matching the teacher's PromptComponent shape.
type Component struct {
	Name     string
	Priority int
	Content  string
	Requires *Requirements
	FilePath string
}

// Requirements gates when a Component loads; every non-empty condition
// must hold (AND logic), same as the teacher's PromptEngine.
type Requirements struct {
	Tools   []string `yaml:"tools"`
	AnyTool []string `yaml:"any_tool"`
	Model   []string `yaml:"model"`
}

type frontmatter struct {
	Name     string        `yaml:"name"`
	Priority int           `yaml:"priority"`
	Requires *Requirements `yaml:"requires"`
}

// ParseComponentFile reads a .md file with "---"-delimited YAML
// frontmatter followed by a markdown body. Unlike the teacher's
// hand-rolled frontmatter scanner (written to avoid a YAML dependency it
// didn't otherwise need), this uses the module's existing yaml.v3
// dependency directly.
func ParseComponentFile(path string) (*Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := string(data)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	if !strings.HasPrefix(content, "---") {
		return &Component{Name: base, Priority: 50, Content: strings.TrimSpace(content), FilePath: path}, nil
	}

	rest := content[3:]
	closeIdx := strings.Index(rest, "\n---")
	if closeIdx < 0 {
		return &Component{Name: base, Priority: 50, Content: strings.TrimSpace(content), FilePath: path}, nil
	}
	fmText := rest[:closeIdx]
	body := rest[closeIdx+4:]
	body = strings.TrimPrefix(body, "\n")

	var fm frontmatter
	fm.Priority = 50
	if err := yaml.Unmarshal([]byte(fmText), &fm); err != nil {
		// Malformed frontmatter degrades to a plain component rather than
		// failing discovery for the whole directory.
		return &Component{Name: base, Priority: 50, Content: strings.TrimSpace(body), FilePath: path}, nil
	}
	name := fm.Name
	if name == "" {
		name = base
	}
	return &Component{Name: name, Priority: fm.Priority, Content: strings.TrimSpace(body), Requires: fm.Requires, FilePath: path}, nil
}

// discoverDir loads every *.md file directly under dir, ignoring read
// errors for individual files (a malformed file shouldn't block the rest
// of the directory from loading).
func discoverDir(dir string) []*Component {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []*Component
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		comp, err := ParseComponentFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, comp)
	}
	return out
}

func meetsRequirements(c *Component, ctx Context) bool {
	req := c.Requires
	if req == nil {
		return true
	}
	for _, t := range req.Tools {
		if !ctx.hasTool(t) {
			return false
		}
	}
	if len(req.AnyTool) > 0 {
		any := false
		for _, t := range req.AnyTool {
			if ctx.hasTool(t) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if len(req.Model) > 0 {
		lower := strings.ToLower(ctx.Model)
		matched := false
		for _, m := range req.Model {
			if strings.Contains(lower, strings.ToLower(m)) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func sortByPriority(comps []*Component) {
	sort.SliceStable(comps, func(i, j int) bool { return comps[i].Priority < comps[j].Priority })
}
