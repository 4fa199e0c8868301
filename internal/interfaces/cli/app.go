package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/eventstream"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/orchestrator"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/toolexec"
	"golang.org/x/term"
)

// ─── ANSI Helpers ───

const (
	reset    = "\033[0m"
	bold     = "\033[1m"
	dim      = "\033[2m"
	italic   = "\033[3m"
	cyan     = "\033[96m"
	cyanBold = "\033[96m\033[1m"
	green    = "\033[92m"
	yellow   = "\033[93m"
	red      = "\033[91m"
	redBold  = "\033[91m\033[1m"
	dimText  = "\033[90m"
	white    = "\033[97m"
	clearLn  = "\033[2K\r"
)

// Braille spinner frames (Gemini CLI style)
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// REPLConfig holds CLI runtime config
type REPLConfig struct {
	Model      string
	Workspace  string
	ToolCount  int
	NoApprove  bool
	InitPrompt string
}

// Engine bundles the shared orchestrator collaborators the REPL drives
// every query through — the same ones wired into the HTTP and Telegram
// entrypoints, so a CLI session gets identical reason-act semantics.
type Engine struct {
	Loop         *orchestrator.Loop
	Limiter      *scheduler.Limiter
	Registry     *monitor.Registry
	Emitter      *eventstream.Emitter
	Model        orchestrator.ModelConfig
	UserID       string
	AgentID      string
}

// RunREPL starts the interactive REPL loop. One session id is held until
// /new or /reset replaces it — the orchestrator's HistoryStore persists turns
// per session id, replacing the teacher's in-memory []LLMMessage threading.
func RunREPL(
	engine *Engine,
	cfg REPLConfig,
) error {
	w := termWidth()
	banner := RenderBanner(BannerInfo{
		Model:      cfg.Model,
		ToolCount:  cfg.ToolCount,
		Workspace:  cfg.Workspace,
		ProjectLng: DetectProjectLanguage(cfg.Workspace),
	}, w)
	fmt.Println(banner)

	// Readline for proper line editing (backspace, arrows, history)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\001\033[1;36m\002❯\001\033[0m\002 ",
		HistoryFile:      "",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	defer rl.Close()

	sessionID := uuid.NewString()

	// Handle SIGTERM for clean exit. Ctrl+C reaches readline as ErrInterrupt
	// at the prompt, and runAgent's SIGINT handler during a query.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Printf("\n%s👋 再见%s\n", dimText, reset)
		rl.Close()
		os.Exit(0)
	}()

	// If initial prompt provided, run it first
	if cfg.InitPrompt != "" {
		runAgent(engine, cfg, cfg.InitPrompt, sessionID)
	}

	// REPL loop
	for {
		input, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				fmt.Printf("%s👋 再见%s\n", dimText, reset)
				return nil
			}
			if err == io.EOF {
				fmt.Printf("\n%s👋 再见%s\n", dimText, reset)
				return nil
			}
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Slash command
		if cmd := ParseSlashCommand(input); cmd != nil {
			result := ExecuteCommand(cmd, cfg.Model, cfg.ToolCount)
			if result.IsQuit {
				fmt.Printf("%s👋 再见%s\n", dimText, reset)
				return nil
			}
			if result.IsReset {
				sessionID = uuid.NewString()
			}
			if (cmd.Name == "model" || cmd.Name == "m") && len(cmd.Args) > 0 {
				cfg.Model = cmd.Args[0]
			}
			if result.Output != "" {
				fmt.Println(result.Output)
			}
			continue
		}

		// Agent query
		runAgent(engine, cfg, input, sessionID)
	}
}

// ─── Agent Execution ───

func runAgent(
	engine *Engine,
	cfg REPLConfig,
	userMessage string,
	sessionID string,
) {
	// Context with cancel for Ctrl+C during streaming
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT)
		select {
		case <-ch:
			cancel()
			fmt.Printf("\n%s⏹ 已中断%s\n", yellow, reset)
		case <-ctx.Done():
		}
	}()

	live, unsubscribe := engine.Emitter.Subscribe(sessionID)
	defer unsubscribe()

	model := engine.Model
	if cfg.Model != "" {
		model.Name = cfg.Model
	}
	req := orchestrator.PreparedRequest{
		UserID:    engine.UserID,
		SessionID: sessionID,
		AgentID:   engine.AgentID,
		Question:  userMessage,
	}
	runCtx := orchestrator.WithRequestContext(ctx, orchestrator.RequestContext{
		UserID: engine.UserID, AgentID: engine.AgentID, SessionID: sessionID,
	})

	resultCh := make(chan orchestrator.RunResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, _, err := orchestrator.Submit(runCtx, engine.Loop, engine.Registry, engine.Limiter, req, model)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	w := termWidth()
	spinner := newSpinner()
	var finalAnswer string
	var stopReason string
	var totalTokens int

loop:
	for {
		select {
		case ev := <-live:
			switch ev.Event {
			case session.EventProgress:
				if stage, _ := ev.Data["stage"].(string); stage != "" {
					spinner.Update(stage)
				}
			case session.EventLLMOutput:
				spinner.Stop()
				if content, _ := ev.Data["content"].(string); content != "" {
					fmt.Print(content)
					if !strings.HasSuffix(content, "\n") {
						fmt.Println()
					}
				}
			case session.EventToolCall:
				spinner.Stop()
				name, _ := ev.Data["name"].(string)
				args, _ := ev.Data["args"].(map[string]any)
				printToolHeader(name, args, w)
				spinner.Update(fmt.Sprintf("%s running...", name))
			case session.EventToolResult:
				spinner.Stop()
				name, _ := ev.Data["name"].(string)
				printToolFooter(name, ev.Data["result"], w)
			case session.EventRoundUsage:
				if total, ok := ev.Data["total"].(int); ok {
					totalTokens = total
				}
			case session.EventError:
				spinner.Stop()
				msg, _ := ev.Data["message"].(string)
				fmt.Printf("\n%s✗ %s%s\n", redBold, msg, reset)
			}
		case result := <-resultCh:
			spinner.Stop()
			finalAnswer = result.Answer
			stopReason = string(result.StopReason)
			totalTokens = result.Usage.Total
			break loop
		case err := <-errCh:
			spinner.Stop()
			fmt.Printf("\n%s✗ %s%s\n", redBold, err.Error(), reset)
			return
		}
	}

	if finalAnswer != "" {
		fmt.Println()
	}

	fmt.Printf("\n%s─── %s · %s tokens ───%s\n",
		dimText, stopReason, fmtTokens(totalTokens), reset)
}

// ─── Tool Display (Gemini CLI style) ───

// printToolHeader renders: ╭─ ⊷ tool_name description ──────
func printToolHeader(name string, args map[string]any, width int) {
	if name == "" {
		return
	}
	icon := toolIcon(name)
	argStr := summarizeToolArgs(args)

	// Header line
	label := fmt.Sprintf(" %s %s %s ", icon, name, argStr)
	lineW := width - len([]rune(label)) - 2
	if lineW < 3 {
		lineW = 3
	}
	line := strings.Repeat("─", lineW)

	fmt.Printf("\n%s╭─%s%s%s%s%s%s%s\n",
		dimText, reset,
		yellow, icon, reset,
		" "+cyanBold+name+reset+" "+dimText+argStr,
		" "+dimText+line,
		reset)
}

// printToolFooter renders: ╰─ ✓ tool_name ──────
func printToolFooter(name string, result any, width int) {
	if name == "" {
		return
	}

	statusIcon, statusColor := "✓", green
	if res, ok := result.(*toolexec.Result); ok && !res.Success {
		statusIcon, statusColor = "✗", red
	}

	label := fmt.Sprintf(" %s %s ", statusIcon, name)
	lineW := width - len([]rune(label)) - 2
	if lineW < 3 {
		lineW = 3
	}
	line := strings.Repeat("─", lineW)

	fmt.Printf("%s╰─%s %s%s%s %s%s%s %s\n",
		dimText, reset,
		statusColor, statusIcon, reset,
		dimText, name, reset,
		dimText+line+reset)
}

// printPlan renders a plan proposal in a box
func printPlan(content string, width int) {
	boxW := width - 4
	if boxW < 20 {
		boxW = 20
	}
	topLine := "╭─ 📋 Plan " + strings.Repeat("─", boxW-12) + "╮"
	botLine := "╰" + strings.Repeat("─", boxW) + "╯"

	fmt.Printf("\n%s%s%s\n", cyanBold, topLine, reset)

	for _, line := range strings.Split(content, "\n") {
		// Truncate if needed
		if len([]rune(line)) > boxW-4 {
			line = string([]rune(line)[:boxW-7]) + "..."
		}
		pad := boxW - 2 - len([]rune(line))
		if pad < 0 {
			pad = 0
		}
		fmt.Printf("%s│%s %s%s%s│%s\n",
			dimText, reset,
			line, strings.Repeat(" ", pad),
			dimText, reset)
	}

	fmt.Printf("%s%s%s\n", dimText, botLine, reset)
}

func toolIcon(name string) string {
	icons := map[string]string{
		"bash":         "$",
		"read_file":    "→",
		"write_file":   "←",
		"edit_file":    "←",
		"apply_patch":  "←",
		"list_dir":     "→",
		"search_files": "✱",
		"search_code":  "✱",
		"web_search":   "◈",
		"web_fetch":    "%",
		"python_exec":  "⟐",
		"create_file":  "+",
		"delete_file":  "×",
	}
	if icon, ok := icons[name]; ok {
		return icon
	}
	return "⚙"
}

func summarizeToolArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	priority := []string{"command", "file_path", "path", "query", "url", "pattern"}
	for _, key := range priority {
		if v, ok := args[key]; ok {
			s := fmt.Sprintf("%v", v)
			if len(s) > 60 {
				s = s[:60] + "…"
			}
			return s
		}
	}
	for _, v := range args {
		s := fmt.Sprintf("%v", v)
		if len(s) > 60 {
			s = s[:60] + "…"
		}
		return s
	}
	return ""
}

// ─── Braille Spinner ───

type asyncSpinner struct {
	mu      sync.Mutex
	running bool
	msg     string
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newSpinner() *asyncSpinner {
	return &asyncSpinner{}
}

func (s *asyncSpinner) Update(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.msg = msg
	if !s.running {
		s.running = true
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.run()
	}
}

func (s *asyncSpinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	doneCh := s.doneCh
	s.mu.Unlock()

	<-doneCh
	fmt.Print(clearLn) // Clear spinner line
}

func (s *asyncSpinner) run() {
	defer close(s.doneCh)

	frame := 0
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.msg
			s.mu.Unlock()

			f := spinnerFrames[frame%len(spinnerFrames)]
			fmt.Printf("%s%s%s %s%s%s", clearLn, cyanBold, f, dimText, msg, reset)
			frame++
		}
	}
}

// ─── Helpers ───

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func firstLine(s string, maxLen int) string {
	first := strings.SplitN(s, "\n", 2)[0]
	r := []rune(first)
	if len(r) > maxLen {
		return string(r[:maxLen]) + "…"
	}
	return first
}

func fmtTokens(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000.0)
	}
	return fmt.Sprintf("%d", n)
}

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
