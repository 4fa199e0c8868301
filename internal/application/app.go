package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/application/usecase"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/approval"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/entity"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/eventstream"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/orchestrator"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/promptcomposer"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/repository"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/service"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	domaintool "github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/tool"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/toolexec"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/valueobject"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/workspace"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/config"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/llm"
	_ "github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/llm/gemini"    // register gemini provider factory
	_ "github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/llm/openai"    // has no init; registers no provider factory
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/persistence"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/sandbox"
	toolpkg "github.com/ylsdamxssjxxdd/wunder-sub003/internal/infrastructure/tool"
	httpServer "github.com/ylsdamxssjxxdd/wunder-sub003/internal/interfaces/http"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/interfaces/telegram"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the dependency-injection container wiring one shared
// orchestrator.Loop and handing it to every transport (HTTP, Telegram,
// the CLI REPL, and — indirectly, via the spawn_agent tool — sub-agents).
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// 仓储层
	agentRepo   repository.AgentRepository
	messageRepo repository.MessageRepository

	// 领域服务
	agentSelector service.AgentSelector
	messageRouter service.MessageRouter

	// 应用服务
	processMessageUseCase *usecase.ProcessMessageUseCase

	// 基础设施
	toolRegistry domaintool.Registry
	llmRouter    *llm.Router
	mcpManager   *toolpkg.MCPManager

	// Orchestrator core collaborators (spec §2/§4.4)
	historyStore    repository.HistoryStore
	streamStore     repository.StreamEventStore
	emitter         *eventstream.Emitter
	limiter         *scheduler.Limiter
	monitorRegistry *monitor.Registry
	approvalGate    *approval.Gate
	workspaceMgr    *workspace.Manager
	promptEngine    *promptcomposer.Engine
	toolExecutor    *toolexec.Executor
	loop            *orchestrator.Loop
	defaultModel    orchestrator.ModelConfig

	telegramAdapter *telegram.Adapter
	httpServer      *httpServer.Server
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Bootstrap: ensure ~/.ngoclaw/ exists with default files on first run
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}
	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}
	if err := app.seedData(); err != nil {
		return nil, fmt.Errorf("failed to seed data: %w", err)
	}

	return app, nil
}

// NewAppCLI creates a lightweight app for CLI mode.
// Only initializes: DB (silent), Tools, LLM Router, the Orchestrator Loop, Prompt Engine.
// Skips: HTTP server, Telegram, seed data.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositoriesSilent(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}
	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}
	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}
	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	// No initInterfaces (HTTP/TG) — CLI doesn't need servers
	// No seedData — avoid noisy DB writes on every CLI launch
	return app, nil
}

// initRepositories 初始化仓储层
func (app *App) initRepositories() error {
	app.logger.Info("Initializing repositories")

	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	app.agentRepo = persistence.NewGormAgentRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)
	app.historyStore = persistence.NewGormHistoryRepository(db)
	app.streamStore = persistence.NewGormStreamEventRepository(db)

	return nil
}

// initRepositoriesSilent initializes repos with silent DB logging (for CLI mode)
func (app *App) initRepositoriesSilent() error {
	db, err := persistence.NewDBConnectionSilent(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db
	app.agentRepo = persistence.NewGormAgentRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)
	app.historyStore = persistence.NewGormHistoryRepository(db)
	app.streamStore = persistence.NewGormStreamEventRepository(db)
	return nil
}

// initDomainServices 初始化领域服务
func (app *App) initDomainServices() error {
	app.logger.Info("Initializing domain services")

	app.agentSelector = service.NewDefaultAgentSelector(app.agentRepo)
	app.messageRouter = service.NewDefaultMessageRouter(app.agentSelector)

	return nil
}

// initInfrastructure wires the tool registry, the LLM router, and every
// orchestrator core collaborator into one shared *orchestrator.Loop. The
// Loop is built BEFORE RegisterAllTools runs: the toolexec bridge only
// holds a reference to toolRegistry, so it is safe to construct before
// the registry has any tools in it, and this ordering lets the
// spawn_agent tool receive the already-built Loop instead of a second,
// disconnected engine.
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	app.toolRegistry = domaintool.NewInMemoryRegistry()
	homeDir, _ := os.UserHomeDir()
	systemSkillsDir := filepath.Join(homeDir, ".ngoclaw", "skills")

	workspaceDir := app.config.Agent.Workspace

	sbxCfg := sandbox.DefaultConfig()
	sbxCfg.PythonEnv = app.config.PythonEnv
	toolTimeout := app.config.Agent.Runtime.ToolTimeout
	if toolTimeout > 0 {
		sbxCfg.Timeout = toolTimeout
	}
	sbx, sbxErr := sandbox.NewProcessSandbox(sbxCfg, app.logger)
	if sbxErr != nil {
		app.logger.Warn("Sandbox init failed, tools will run unsandboxed", zap.Error(sbxErr))
	}

	// LLM Router (modular provider factory with failover).
	// NOTE: must be initialized BEFORE the Loop because llmclient.Client wraps it.
	app.llmRouter = llm.NewRouter(app.logger)
	for _, p := range app.config.Agent.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, app.logger)
		if err != nil {
			app.logger.Error("Failed to create LLM provider",
				zap.String("name", p.Name),
				zap.Error(err),
			)
			continue
		}
		app.llmRouter.AddProvider(provider)
	}
	app.logger.Info("LLM Router initialized", zap.Int("providers", len(app.config.Agent.Providers)))

	app.mcpManager = toolpkg.NewMCPManager(filepath.Join(homeDir, ".ngoclaw", "mcp.json"), app.toolRegistry, app.logger)

	// ── Orchestrator core collaborators ──
	clientAdapter := llm.NewClientAdapter(app.llmRouter)
	toolBridge := toolpkg.NewRegistryBridge(app.toolRegistry)

	parallelism := toolexec.DefaultToolParallelism
	app.toolExecutor = toolexec.NewExecutor(toolBridge, parallelism, app.logger)

	app.emitter = eventstream.NewEmitter(app.streamStore, app.logger)

	app.limiter = scheduler.NewLimiter(defaultMaxActiveSessions(app.config))
	app.monitorRegistry = monitor.NewRegistry()
	app.approvalGate = approval.NewGate(app.logger)

	workspaceBase := filepath.Join(homeDir, ".ngoclaw", "workspaces")
	app.workspaceMgr = workspace.NewManager(workspaceBase, app.logger)

	app.promptEngine = promptcomposer.NewEngine(filepath.Join(homeDir, ".ngoclaw"), workspaceDir, app.logger)
	if err := app.promptEngine.Discover(); err != nil {
		app.logger.Warn("Prompt engine discovery failed, will use empty optional sections", zap.Error(err))
	}

	summarizer := llm.NewSummarizer(clientAdapter, app.config.Agent.DefaultModel)

	policy := toolexec.Policy{
		Profile:     "full",
		AllowList:   app.config.Agent.Security.TrustedTools,
		DenyList:    nil,
		AskMode:     app.config.Agent.AskMode || app.config.Agent.Security.ApprovalMode == "ask_all",
		MaxExecTime: int(toolTimeout.Seconds()),
	}

	app.loop = orchestrator.NewLoop(
		clientAdapter,
		app.historyStore,
		app.emitter,
		app.limiter,
		toolBridge,
		app.toolExecutor,
		policy,
		app.approvalGate,
		summarizer,
		app.promptEngine,
		app.workspaceMgr,
		toolTimeout,
		app.logger,
	)

	app.defaultModel = app.resolveDefaultModelConfig()

	subAgentTimeout := app.config.Agent.Runtime.SubAgentTimeout

	// ── Unified Tool Registration (single entry point). Runs AFTER the
	// Loop exists so spawn_agent is handed the real shared Loop. ──
	toolpkg.RegisterAllTools(toolpkg.ToolLayerDeps{
		Registry:   app.toolRegistry,
		Sandbox:    sbx,
		SkillExec:  nil,
		PythonEnv:  app.config.PythonEnv,
		SkillsDir:  systemSkillsDir,
		Workspace:  app.config.Agent.Workspace,
		MCPManager: app.mcpManager,
		SubAgent: &toolpkg.SubAgentDeps{
			Loop:         app.loop,
			Limiter:      app.limiter,
			Registry:     app.monitorRegistry,
			DefaultModel: app.defaultModel,
			Timeout:      subAgentTimeout,
		},
		Logger: app.logger,
	})

	return nil
}

// defaultMaxActiveSessions bounds concurrent sessions per user+agent.
// Grounded on the teacher's config.Agent.Runtime having no equivalent
// notion at all (it ran one AgentLoop per call with no admission control);
// a small fixed ceiling is the conservative default until config.yaml
// grows a dedicated field.
func defaultMaxActiveSessions(cfg *config.Config) int {
	return 4
}

// resolveDefaultModelConfig maps the teacher's flat config.yaml knobs onto
// the spec's per-model ModelConfig (spec §6 "External collaborators...
// Config"), the same values app.go used to hand to
// service.DefaultAgentLoopConfig().
func (app *App) resolveDefaultModelConfig() orchestrator.ModelConfig {
	mc := orchestrator.ModelConfig{
		Name:                   app.config.Agent.DefaultModel,
		Temperature:            0.7,
		HistoryCompactionRatio: 0.8,
		ToolCallMode:           "function",
		StreamIncludeUsage:     true,
	}
	if app.config.Agent.Runtime.RunTimeout > 0 {
		mc.TimeoutS = int(app.config.Agent.Runtime.RunTimeout.Seconds())
	}
	if app.config.Agent.Guardrails.ContextMaxTokens > 0 {
		mc.MaxContext = app.config.Agent.Guardrails.ContextMaxTokens
	}
	if app.config.Agent.Guardrails.ContextHardRatio > 0 {
		mc.HistoryCompactionRatio = app.config.Agent.Guardrails.ContextHardRatio
	}
	if app.config.Agent.MaxIterations > 0 {
		mc.MaxRounds = app.config.Agent.MaxIterations
	}
	return mc
}

// WorkspaceID resolves the scoped workspace identifier for a (user, agent)
// pair, shared by every entrypoint building a PreparedRequest.
func (app *App) WorkspaceID(userID, agentID string) string {
	return workspace.ScopedUserID(userID, agentID)
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() error {
	app.logger.Info("Initializing application services")

	// ProcessMessageUseCase (legacy HTTP/REPL path — plain LLM call, no
	// tools, no orchestration; the Orchestrator Loop is the primary path).
	app.processMessageUseCase = usecase.NewProcessMessageUseCase(
		app.messageRepo,
		app.messageRouter,
		app.llmRouter,
		app.logger,
	)

	app.logger.Info("Orchestrator loop initialized", zap.String("model", app.defaultModel.Name))
	return nil
}

// chatIDKey is a context key for passing chatID to the Telegram approval flow.
type chatIDKey struct{}

// WithChatID stores chatID in the context.
func WithChatID(ctx context.Context, chatID int64) context.Context {
	return context.WithValue(ctx, chatIDKey{}, chatID)
}

// ChatIDFromContext extracts chatID from the context.
func ChatIDFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(chatIDKey{}).(int64); ok {
		return v
	}
	return 0
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() error {
	app.logger.Info("Initializing interfaces")

	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host: app.config.Gateway.Host,
			Port: app.config.Gateway.Port,
			Mode: app.config.Gateway.Mode,
		},
		app.processMessageUseCase,
		app.loop,
		app.limiter,
		app.monitorRegistry,
		app.emitter,
		app.approvalGate,
		app.toolRegistry,
		app.defaultModel,
		app.logger,
	)

	// Telegram适配器
	if app.config.Telegram.BotToken != "" {
		var err error
		app.telegramAdapter, err = telegram.NewAdapter(
			&telegram.Config{
				BotToken:       app.config.Telegram.BotToken,
				AllowedUserIDs: app.config.Telegram.AllowIDs,
				DMPolicy:       app.config.Telegram.DMPolicy,
				GroupPolicy:    app.config.Telegram.GroupPolicy,
				GroupAllowFrom: app.config.Telegram.GroupAllowFrom,
			},
			app.logger,
		)
		if err != nil {
			return fmt.Errorf("failed to create telegram adapter: %w", err)
		}

		app.toolRegistry.Register(toolpkg.NewSendPhotoTool(app.telegramAdapter, app.logger))
		app.toolRegistry.Register(toolpkg.NewSendDocumentTool(app.telegramAdapter, app.logger))
		app.logger.Info("Registered TG media tools (send_photo, send_document)")

		sessionManager := telegram.NewDefaultSessionManager(app.config.Agent.DefaultModel)
		if len(app.config.Agent.Models) > 0 {
			models := make([]telegram.ModelInfo, len(app.config.Agent.Models))
			for i, m := range app.config.Agent.Models {
				models[i] = telegram.ModelInfo{ID: m.ID, Alias: m.Alias, Provider: m.Provider, Description: m.Description}
			}
			sessionManager.SetAvailableModels(models)
		}

		cmdRegistry := telegram.NewCommandRegistry()
		cmdRegistry.SetSessionManager(sessionManager)

		skillHome, _ := os.UserHomeDir()
		skillDir := filepath.Join(skillHome, ".ngoclaw", "skills")
		skillManager := telegram.NewSkillManager(skillDir)
		cmdRegistry.SetSkillManager(skillManager)
		app.logger.Info("Skill manager initialized", zap.String("dir", skillDir), zap.Int("count", len(skillManager.List())))

		app.telegramAdapter.RegisterBuiltinCommands(cmdRegistry, nil)
		app.telegramAdapter.SetCommandRegistry(cmdRegistry)

		msgHandler := &telegramMessageHandler{
			loop:           app.loop,
			limiter:        app.limiter,
			registry:       app.monitorRegistry,
			emitter:        app.emitter,
			model:          app.defaultModel,
			app:            app,
			tgAdapter:      app.telegramAdapter,
			logger:         app.logger,
			sessionManager: sessionManager,
		}
		app.telegramAdapter.SetMessageHandler(msgHandler)

		// Wire approval requests to the Telegram adapter: the Approval Gate
		// (session.ApprovalRequest) is the spec's three-way scoped
		// equivalent of the teacher's SecurityHook approvalFunc callback.
		go app.pumpApprovalsToTelegram(context.Background())

		cmdRegistry.SetHistoryClearer(msgHandler)
		cmdRegistry.SetRunController(msgHandler)
		app.telegramAdapter.SetRunController(msgHandler)

		app.logger.Info("Telegram adapter initialized with command registry and session manager")
	} else {
		app.logger.Warn("Telegram bot token not configured, skipping telegram adapter")
	}

	return nil
}

// seedData 初始化默认数据
func (app *App) seedData() error {
	app.logger.Info("Seeding default data")

	ctx := context.Background()

	defaultAgent, err := entity.NewAgent("default", "默认助手", valueobject.DefaultModelConfig())
	if err != nil {
		return fmt.Errorf("failed to create default agent: %w", err)
	}

	if err := app.agentRepo.Save(ctx, defaultAgent); err != nil {
		return fmt.Errorf("failed to save default agent: %w", err)
	}

	app.logger.Info("Default agent created", zap.String("id", defaultAgent.ID()), zap.String("name", defaultAgent.Name()))
	return nil
}

// Start 启动应用程序
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if app.telegramAdapter != nil {
		if err := app.telegramAdapter.Start(ctx); err != nil {
			return fmt.Errorf("failed to start telegram adapter: %w", err)
		}
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop 停止应用程序
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if app.telegramAdapter != nil {
		app.telegramAdapter.Stop()
	}

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// ProcessMessageUseCase returns the message processing usecase (used by REPL)
func (app *App) ProcessMessageUseCase() *usecase.ProcessMessageUseCase {
	return app.processMessageUseCase
}

// Logger returns the application logger
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig returns the application config
func (app *App) AppConfig() *config.Config {
	return app.config
}

// Loop returns the shared orchestrator loop (used by CLI)
func (app *App) Loop() *orchestrator.Loop {
	return app.loop
}

// Limiter returns the shared scheduler limiter (used by CLI)
func (app *App) Limiter() *scheduler.Limiter {
	return app.limiter
}

// MonitorRegistry returns the shared monitor registry (used by CLI)
func (app *App) MonitorRegistry() *monitor.Registry {
	return app.monitorRegistry
}

// Emitter returns the shared event emitter (used by CLI)
func (app *App) Emitter() *eventstream.Emitter {
	return app.emitter
}

// DefaultModel returns the resolved default ModelConfig (used by CLI)
func (app *App) DefaultModel() orchestrator.ModelConfig {
	return app.defaultModel
}

// PromptEngine returns the prompt composer engine (used by CLI)
func (app *App) PromptEngine() *promptcomposer.Engine {
	return app.promptEngine
}

// ToolRegistry returns the tool registry (used by CLI)
func (app *App) ToolRegistry() domaintool.Registry {
	return app.toolRegistry
}

// pumpApprovalsToTelegram bridges approval.Gate's pending requests to the
// Telegram adapter's inline-button confirmation flow (Adapter.RequestApproval),
// generalizing the teacher's single-callback SecurityHook.approvalFunc to the
// spec's three-way ApprovalScope. The Gate is polled rather than pushed to
// since it only exposes Pending()/Respond(); chatID is recovered from the
// "tg:<chatID>:<uuid>" session id convention telegramMessageHandler mints
// sessions with, so non-Telegram approvals (HTTP/CLI) are simply skipped here.
func (app *App) pumpApprovalsToTelegram(ctx context.Context) {
	seen := make(map[string]bool)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, req := range app.approvalGate.Pending() {
				if seen[req.ID] {
					continue
				}
				chatID, ok := telegramChatIDFromSessionID(req.SessionID)
				if !ok {
					continue
				}
				seen[req.ID] = true
				go app.resolveTelegramApproval(ctx, req, chatID)
			}
		}
	}
}

// resolveTelegramApproval blocks on the Telegram adapter's inline-button
// flow and forwards the user's binary decision back to the Gate as
// approve_once or deny — Telegram's keyboard has no third "remember for
// this session" button, so approve_session is never produced here.
func (app *App) resolveTelegramApproval(ctx context.Context, req session.ApprovalRequest, chatID int64) {
	argsJSON, _ := json.Marshal(req.Args)
	approved, err := app.telegramAdapter.RequestApproval(ctx, chatID, req.Tool, string(argsJSON))
	if err != nil {
		app.logger.Warn("Telegram approval request failed", zap.String("request_id", req.ID), zap.Error(err))
		approved = false
	}
	scope := session.ApprovalDeny
	if approved {
		scope = session.ApprovalOnce
	}
	app.approvalGate.Respond(req.ID, scope)
}

// telegramChatIDFromSessionID parses the "tg:<chatID>:<uuid>" convention
// telegramMessageHandler mints chat session ids with.
func telegramChatIDFromSessionID(sessionID string) (int64, bool) {
	if !strings.HasPrefix(sessionID, "tg:") {
		return 0, false
	}
	rest := sessionID[len("tg:"):]
	idx := strings.Index(rest, ":")
	if idx < 0 {
		return 0, false
	}
	chatID, err := strconv.ParseInt(rest[:idx], 10, 64)
	if err != nil {
		return 0, false
	}
	return chatID, true
}
