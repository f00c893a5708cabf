package toolpool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/ypreiser/botgate/botengine"
	"github.com/ypreiser/botgate/domains/profile"
)

const handshakeTimeout = 30 * time.Second

type serverClient struct {
	name   string
	client *mcpclient.Client
}

type toolEntry struct {
	def    botengine.ToolDefinition
	server *serverClient
}

// Pool owns the subprocess tool-server clients of one active session.
// Tool names collide last-wins across servers; a shadowed tool is logged
// once at open.
type Pool struct {
	mu      sync.RWMutex
	servers []*serverClient
	tools   map[string]toolEntry
	closed  bool
}

// Open spawns one stdio client per enabled server entry and aggregates
// their tool catalogs. A failing server never aborts the open; it is
// logged and omitted from the returned set.
func Open(ctx context.Context, servers []profile.ToolServerConfig) *Pool {
	pool := &Pool{tools: make(map[string]toolEntry)}

	for _, cfg := range servers {
		if !cfg.Enabled {
			logrus.Infof("[TOOL_POOL] Server %s is disabled, skipping", cfg.Name)
			continue
		}

		sc, defs, err := connectServer(ctx, cfg)
		if err != nil {
			logrus.WithError(err).Errorf("[TOOL_POOL] Server %s failed to open, omitting", cfg.Name)
			continue
		}

		pool.servers = append(pool.servers, sc)
		for _, def := range defs {
			if prev, exists := pool.tools[def.Name]; exists {
				logrus.Warnf("[TOOL_POOL] Tool %s from server %s shadows the one from %s",
					def.Name, cfg.Name, prev.server.name)
			}
			pool.tools[def.Name] = toolEntry{def: def, server: sc}
		}

		logrus.Infof("[TOOL_POOL] Server %s connected with %d tools", cfg.Name, len(defs))
	}

	return pool
}

func connectServer(ctx context.Context, cfg profile.ToolServerConfig) (*serverClient, []botengine.ToolDefinition, error) {
	// Stdio transport starts the subprocess on creation.
	c, err := mcpclient.NewStdioMCPClient(cfg.Command, nil, cfg.Args...)
	if err != nil {
		return nil, nil, fmt.Errorf("spawn: %w", err)
	}

	hsCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "botgate",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(hsCtx, initReq); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	toolsRes, err := c.ListTools(hsCtx, mcp.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}

	sc := &serverClient{name: cfg.Name, client: c}

	var defs []botengine.ToolDefinition
	for _, t := range toolsRes.Tools {
		defs = append(defs, botengine.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return sc, defs, nil
}

// Tools implements botengine.ToolInvoker.
func (p *Pool) Tools() []botengine.ToolDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()

	defs := make([]botengine.ToolDefinition, 0, len(p.tools))
	for _, e := range p.tools {
		defs = append(defs, e.def)
	}
	return defs
}

// Invoke dispatches to the owning subprocess.
func (p *Pool) Invoke(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, fmt.Errorf("tool pool is closed")
	}
	entry, ok := p.tools[name]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tool %s not found", name)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = args

	res, err := entry.server.client.CallTool(ctx, callReq)
	if err != nil {
		return nil, fmt.Errorf("tool %s invocation failed on server %s: %w", name, entry.server.name, err)
	}

	var texts []string
	for _, content := range res.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}

	return map[string]any{
		"content":  texts,
		"is_error": res.IsError,
	}, nil
}

// Close shuts down every subprocess. Per-server close errors are logged
// and do not abort the others. Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for _, sc := range p.servers {
		if err := sc.client.Close(); err != nil {
			logrus.WithError(err).Warnf("[TOOL_POOL] Server %s close failed", sc.name)
		}
	}
	p.servers = nil
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{"type": "object"}
	}
	return out
}
