package promptcomposer

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// buildRuntimeBlock renders the purely-factual environment section
// (spec-named "runtime"), adapted from the teacher's BuildRuntimeBlock —
// no behavioral directives here, those live in the fixed constant
// sections and in discovered Components.
func buildRuntimeBlock(ctx Context) string {
	hostname, _ := os.Hostname()
	now := time.Now().Format("2006-01-02 15:04:05 MST")

	channel := ctx.Channel
	if channel == "" {
		channel = "api"
	}
	model := ctx.Model
	if model == "" {
		model = "unknown"
	}
	workspace := ctx.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}

	return fmt.Sprintf(`## Runtime

- OS: %s/%s | Host: %s
- Time: %s
- Channel: %s
- Model: %s
- Workspace: %s`,
		runtime.GOOS, runtime.GOARCH, hostname, now, channel, model, workspace)
}

// buildEngineerSystemInfo is the spec's distinct "engineer system info"
// section: process/build facts a coding-oriented session needs that the
// runtime block (user-facing environment) doesn't carry.
func buildEngineerSystemInfo(ctx Context) string {
	return fmt.Sprintf(`## Engineer System Info

- Go runtime: %s
- CPUs: %d
- Working directory: %s`,
		runtime.Version(), runtime.NumCPU(), ctx.Workspace)
}

// buildToolProtocolBlock renders the tool availability table and calling
// conventions, adapted from the teacher's buildToolingSection.
func buildToolProtocolBlock(ctx Context) string {
	if len(ctx.RegisteredTools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tool Protocol\n\n")
	sb.WriteString("Tools available this round (case-sensitive names):\n\n")
	for _, name := range ctx.RegisteredTools {
		if summary, ok := ctx.ToolSummaries[name]; ok && summary != "" {
			sb.WriteString("- " + name + ": " + firstSentence(summary) + "\n")
		} else {
			sb.WriteString("- " + name + "\n")
		}
	}
	sb.WriteString("\nCall exactly one tool per turn when a tool is needed. Arguments must match the tool's declared schema. Do not narrate routine, low-risk calls; narrate multi-step or sensitive ones briefly.\n")
	return sb.String()
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, ". "); idx >= 0 && idx < 80 {
		return s[:idx+1]
	}
	if len(s) > 80 {
		return s[:80] + "…"
	}
	return s
}

// buildSkillBlock merges shared and channel-override Components
// (requirements-filtered, priority-sorted, channel wins by name) into one
// section, matching the teacher's PromptEngine merge rule.
func buildSkillBlock(shared, channelComps []*Component, ctx Context) string {
	channelNames := make(map[string]bool, len(channelComps))
	var eligible []*Component
	for _, c := range channelComps {
		if meetsRequirements(c, ctx) {
			eligible = append(eligible, c)
			channelNames[c.Name] = true
		}
	}
	for _, c := range shared {
		if channelNames[c.Name] {
			continue
		}
		if meetsRequirements(c, ctx) {
			eligible = append(eligible, c)
		}
	}
	if len(ctx.SkillNames) > 0 {
		wanted := make(map[string]bool, len(ctx.SkillNames))
		for _, n := range ctx.SkillNames {
			wanted[n] = true
		}
		filtered := eligible[:0:0]
		for _, c := range eligible {
			if wanted[c.Name] {
				filtered = append(filtered, c)
			}
		}
		eligible = filtered
	}
	sortByPriority(eligible)

	if len(eligible) == 0 {
		return ""
	}
	var parts []string
	for _, c := range eligible {
		parts = append(parts, c.Content)
	}
	return "## Skills\n\n" + strings.Join(parts, "\n\n")
}

// buildA2UIBlock documents the A2UI partial-surface protocol for sessions
// that have it enabled.
func buildA2UIBlock() string {
	return `## A2UI

You may emit structured UI surface patches via the a2ui tool channel. Each
patch targets one surfaceId; patches to the same surfaceId within a
session replace the prior one (last write wins). Do not use A2UI for
plain conversational text — use it only for structured, re-renderable UI.`
}

// buildPlanModule documents plan/question-panel mode: the session is
// paused on a clarifying question rather than continuing the round loop.
func buildPlanModule(ctx Context) string {
	if ctx.QuestionText == "" {
		return `## Plan Mode

Before taking consequential or irreversible actions, propose a short plan
and ask the user to confirm via the question panel rather than proceeding
silently.`
	}
	return "## Question Panel\n\nThe session is paused awaiting the user's answer to:\n\n" + ctx.QuestionText
}
