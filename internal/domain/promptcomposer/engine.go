package promptcomposer

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// sectionSafety, sectionProduct and sectionProgramming are the fixed,
// non-file-backed sections of the spec's assembly order. They are short
// and rarely change, so they live as constants rather than discovered
// files — the discovered Components are reserved for the skill block and
// anything workspace/channel authors want to add.
const (
	sectionSafety = `## Safety

Refuse requests that would cause irreversible harm to systems or data you
don't control. Destructive or hard-to-reverse actions (deleting files,
force-pushing, dropping data) are confirmed with the user before execution
unless the active session has already granted that scope.`

	sectionProduct = `## Product

You are an assistant embedded in a multi-tenant agent orchestrator. You
act on behalf of one user in one session at a time; other sessions and
other users' data are not visible to you.`

	sectionProgramming = `## Programming

When editing code: match the surrounding style, keep changes minimal and
scoped to the request, and prefer the project's existing libraries and
patterns over introducing new ones.`

	sectionRole = `## Role

You are a reasoning agent that plans, calls tools, and responds inside a
bounded number of rounds. Work toward the user's goal directly; ask before
guessing when a decision is consequential and ambiguous.`
)

// Engine discovers Components from System/Workspace/Channel layers (the
// teacher's three-layer PromptEngine directory scheme, directory names
// adapted to this product) and assembles the fixed spec section order on
// each Assemble call, caching by fingerprint.
type Engine struct {
	mu sync.RWMutex

	systemDir string
	wsDir     string

	shared       []*Component
	channelComps map[string][]*Component

	generation int
	cache      map[string]string

	watcher *fsnotify.Watcher
	logger  *zap.Logger
}

// NewEngine creates an Engine rooted at systemDir (e.g. ~/.wunder) with an
// optional workspace override directory.
func NewEngine(systemDir, workspaceDir string, logger *zap.Logger) *Engine {
	var wsDir string
	if workspaceDir != "" {
		wsDir = filepath.Join(workspaceDir, ".wunder")
	}
	return &Engine{
		systemDir:    systemDir,
		wsDir:        wsDir,
		channelComps: make(map[string][]*Component),
		cache:        make(map[string]string),
		logger:       logger,
	}
}

// Discover (re)loads components from disk. Workspace components override
// same-named system components; channel components override same-named
// shared ones at Assemble time.
func (e *Engine) Discover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	byName := make(map[string]*Component)
	for _, dir := range []string{filepath.Join(e.systemDir, "prompts"), e.wsDirPrompts()} {
		if dir == "" {
			continue
		}
		for _, c := range discoverDir(dir) {
			byName[c.Name] = c
		}
	}
	shared := make([]*Component, 0, len(byName))
	for _, c := range byName {
		shared = append(shared, c)
	}
	sortByPriority(shared)

	channelComps := make(map[string][]*Component)
	for _, channel := range []string{"cli", "telegram", "http", "ws", "grpc"} {
		dir := filepath.Join(e.systemDir, channel, "prompts")
		if comps := discoverDir(dir); len(comps) > 0 {
			sortByPriority(comps)
			channelComps[channel] = comps
		}
	}

	e.shared = shared
	e.channelComps = channelComps
	e.generation++
	e.cache = make(map[string]string)
	return nil
}

func (e *Engine) wsDirPrompts() string {
	if e.wsDir == "" {
		return ""
	}
	return filepath.Join(e.wsDir, "prompts")
}

// WatchForChanges starts an fsnotify watch on the system and workspace
// prompt directories, calling Discover (invalidating the fingerprint
// cache) whenever a file is written, created, removed, or renamed.
// Mirrors the teacher's use of fsnotify for config hot-reload, applied
// here to prompt components instead.
func (e *Engine) WatchForChanges() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, dir := range []string{filepath.Join(e.systemDir, "prompts"), e.wsDirPrompts()} {
		if dir == "" {
			continue
		}
		_ = os.MkdirAll(dir, 0o755)
		if err := w.Add(dir); err != nil {
			e.logger.Warn("Failed to watch prompt directory", zap.String("dir", dir), zap.Error(err))
		}
	}
	e.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := e.Discover(); err != nil {
						e.logger.Warn("Prompt component reload failed", zap.Error(err))
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.logger.Warn("Prompt watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the filesystem watcher, if one was started.
func (e *Engine) Close() error {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Close()
}

// Assemble builds the system prompt in the spec's fixed section order:
// role, safety, product, programming, runtime, engineer system info,
// tool-protocol block, skill block, agent prompt, A2UI block, and the
// plan/question-panel module. The result is cached by fingerprint(ctx,
// generation) so an unchanged round reuses the prior string.
func (e *Engine) Assemble(ctx Context) string {
	e.mu.RLock()
	key := fingerprint(ctx, e.generation)
	if cached, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return cached
	}
	shared := e.shared
	channelComps := e.channelComps[ctx.Channel]
	e.mu.RUnlock()

	var sections []string
	sections = append(sections, sectionRole, sectionSafety, sectionProduct, sectionProgramming)
	sections = append(sections, buildRuntimeBlock(ctx))
	sections = append(sections, buildEngineerSystemInfo(ctx))

	if block := buildToolProtocolBlock(ctx); block != "" {
		sections = append(sections, block)
	}
	if block := buildSkillBlock(shared, channelComps, ctx); block != "" {
		sections = append(sections, block)
	}
	if ctx.AgentPrompt != "" {
		sections = append(sections, "## Agent Prompt\n\n"+ctx.AgentPrompt)
	}
	if ctx.A2UIEnabled {
		sections = append(sections, buildA2UIBlock())
	}
	if ctx.PlanMode {
		sections = append(sections, buildPlanModule(ctx))
	}

	result := strings.Join(sections, "\n\n---\n\n")

	e.mu.Lock()
	e.cache[key] = result
	e.mu.Unlock()
	return result
}
