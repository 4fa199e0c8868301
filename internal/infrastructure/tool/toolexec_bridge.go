package tool

import (
	"context"

	domaintool "github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/tool"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/toolexec"
)

// RegistryBridge adapts the teacher's domaintool.Registry (the one
// RegisterAllTools populates with every built-in/MCP/skill/sub-agent tool)
// to the spec's toolexec.Registry/Tool contract, so toolexec.Executor and
// toolexec.Evaluate run against the real, already-registered tool set
// instead of a second, parallel registry. Name/Description/Schema/Execute
// are identical signatures on both sides; Kind and Result are distinct
// types sharing the same underlying string/field shapes, so this is a
// pure boundary conversion, not new tool logic.
type RegistryBridge struct {
	inner domaintool.Registry
}

func NewRegistryBridge(inner domaintool.Registry) *RegistryBridge {
	return &RegistryBridge{inner: inner}
}

func (b *RegistryBridge) Register(t toolexec.Tool) error {
	return b.inner.Register(&toolAdapter{t})
}

func (b *RegistryBridge) Unregister(name string) error {
	return b.inner.Unregister(name)
}

func (b *RegistryBridge) Get(name string) (toolexec.Tool, bool) {
	t, ok := b.inner.Get(name)
	if !ok {
		return nil, false
	}
	return &domainToolAdapter{t}, true
}

func (b *RegistryBridge) List() []toolexec.Definition {
	defs := b.inner.List()
	out := make([]toolexec.Definition, len(defs))
	for i, d := range defs {
		out[i] = toolexec.Definition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

func (b *RegistryBridge) Has(name string) bool {
	return b.inner.Has(name)
}

// domainToolAdapter wraps a domaintool.Tool so it satisfies toolexec.Tool.
type domainToolAdapter struct {
	t domaintool.Tool
}

func (a *domainToolAdapter) Name() string        { return a.t.Name() }
func (a *domainToolAdapter) Description() string { return a.t.Description() }
func (a *domainToolAdapter) Kind() toolexec.Kind  { return toolexec.Kind(a.t.Kind()) }
func (a *domainToolAdapter) Schema() map[string]interface{} { return a.t.Schema() }
func (a *domainToolAdapter) Execute(ctx context.Context, args map[string]interface{}) (*toolexec.Result, error) {
	res, err := a.t.Execute(ctx, args)
	if err != nil || res == nil {
		return nil, err
	}
	return &toolexec.Result{Output: res.Output, Display: res.Display, Success: res.Success, Metadata: res.Metadata, Error: res.Error}, nil
}

// toolAdapter wraps a toolexec.Tool so it satisfies domaintool.Tool, for
// the rare case a spec-native tool needs registering into the teacher's
// registry directly.
type toolAdapter struct {
	t toolexec.Tool
}

func (a *toolAdapter) Name() string        { return a.t.Name() }
func (a *toolAdapter) Description() string { return a.t.Description() }
func (a *toolAdapter) Kind() domaintool.Kind { return domaintool.Kind(a.t.Kind()) }
func (a *toolAdapter) Schema() map[string]interface{} { return a.t.Schema() }
func (a *toolAdapter) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	res, err := a.t.Execute(ctx, args)
	if err != nil || res == nil {
		return nil, err
	}
	return &domaintool.Result{Output: res.Output, Display: res.Display, Success: res.Success, Metadata: res.Metadata, Error: res.Error}, nil
}
