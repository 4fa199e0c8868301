// Package workspace is the Workspace collaborator (spec §6 "External
// collaborators... Workspace"): resolves a per-(user, agent) scoped
// filesystem root, tracks a monotonic tree version bumped on every
// mutating tool action, and persists a session's last-seen context-token
// count and assembled system prompt for diagnostics.
//
// Grounded on the teacher's single-tenant internal/infrastructure/config
// notion of a workspace (config.Agent.Workspace, config/bootstrap.go's
// HomeDir/WorkspaceDirName directory layout) generalized to the spec's
// multi-tenant requirement: one workspace root per (user, agent) pair
// instead of one process-wide root, plus the version counter and
// session-context persistence the teacher has no equivalent of at all.
package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// Manager implements the orchestrator.WorkspaceVersioner seam plus the
// rest of the spec's Workspace contract.
type Manager struct {
	baseDir string
	logger  *zap.Logger

	mu       sync.Mutex
	versions map[string]int64
}

// NewManager roots every workspace under baseDir, mirroring the teacher's
// config.HomeDir() convention but scoped per-tenant rather than per-machine.
func NewManager(baseDir string, logger *zap.Logger) *Manager {
	return &Manager{baseDir: baseDir, logger: logger, versions: make(map[string]int64)}
}

// ScopedUserID derives a stable workspace id for a (user, agent) pair. Two
// requests from the same user against the same agent always resolve to the
// same workspace id; different agents for the same user get isolated
// workspaces so one agent's tool calls can't see another's files.
func ScopedUserID(userID, agentID string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + agentID))
	return hex.EncodeToString(sum[:])[:24]
}

// DisplayPath resolves a workspace-relative path to an absolute one rooted
// under the workspace's own directory, rejecting any attempt to escape it
// via ".." segments.
func (m *Manager) DisplayPath(workspaceID, relPath string) (string, error) {
	root := filepath.Join(m.baseDir, workspaceID)
	joined := filepath.Join(root, relPath)
	rel, err := filepath.Rel(root, joined)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) >= 2 && rel[:2] == ".." {
		return "", os.ErrPermission
	}
	return joined, nil
}

// TreeVersion returns the workspace's current monotonic version (spec §4
// "Workspace version"). Unknown workspaces start at 0.
func (m *Manager) TreeVersion(ctx context.Context, workspaceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[workspaceID], nil
}

// Bump increments a workspace's tree version. Called by the orchestrator
// Loop after any successful call whose Kind is a toolexec.MutatorKind, so its
// step-11 before/after TreeVersion comparison observes the change.
func (m *Manager) Bump(workspaceID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions[workspaceID]++
	return m.versions[workspaceID]
}

// EnsureDir creates the workspace's root directory if it doesn't exist yet,
// mirroring config.Bootstrap's create-missing-only semantics.
func (m *Manager) EnsureDir(workspaceID string) error {
	return os.MkdirAll(filepath.Join(m.baseDir, workspaceID), 0o755)
}

// SaveSessionContextTokens persists the last-observed context token count
// for a session, written alongside the workspace for operator inspection
// (e.g. "du -sh" style accounting across a tenant's sessions).
func (m *Manager) SaveSessionContextTokens(ctx context.Context, workspaceID, sessionID string, tokens int) error {
	dir := filepath.Join(m.baseDir, workspaceID, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sessionID+".tokens"), []byte(itoa64(int64(tokens))), 0o644)
}

// SaveSessionSystemPrompt persists the assembled system prompt a session
// ran with, for debugging prompt-composition issues after the fact.
func (m *Manager) SaveSessionSystemPrompt(ctx context.Context, workspaceID, sessionID, prompt string) error {
	dir := filepath.Join(m.baseDir, workspaceID, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sessionID+".prompt.md"), []byte(prompt), 0o644)
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
