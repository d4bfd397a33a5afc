package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/magent/internal/model"
)

const (
	TransportStdio          = "stdio"
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
)

type MCPConfig struct {
	Name      string
	Transport string
	URL       string
	Command   string
	Args      []string
	Env       map[string]string
	Headers   map[string]string
	// Kinds tags remote tools, e.g. {"web_search": "web_research"}.
	Kinds map[string]string
}

type mcpSession interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

type dialFunc func(ctx context.Context, cfg MCPConfig) (mcpSession, error)

// MCPProvider exposes the tools of one MCP server. The connection is opened
// on first use and reopened after a failed call.
type MCPProvider struct {
	cfg  MCPConfig
	dial dialFunc

	mu      sync.Mutex
	session mcpSession
}

func NewMCPProvider(cfg MCPConfig) (*MCPProvider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp server name is required")
	}
	if cfg.URL == "" && cfg.Command == "" {
		return nil, fmt.Errorf("mcp server %s: url or command is required", cfg.Name)
	}
	return &MCPProvider{cfg: cfg, dial: dialMCP}, nil
}

func (p *MCPProvider) Name() string {
	return p.cfg.Name
}

func (p *MCPProvider) ListTools(ctx context.Context) ([]model.ToolDescriptor, error) {
	s, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		p.reset()
		return nil, fmt.Errorf("list tools: %w", err)
	}
	items := make([]model.ToolDescriptor, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		items = append(items, model.ToolDescriptor{
			Name:            t.Name,
			Kind:            p.cfg.Kinds[t.Name],
			Description:     t.Description,
			ParameterSchema: convertSchema(t.InputSchema),
			Provider:        p.cfg.Name,
			RemoteName:      t.Name,
		})
	}
	return items, nil
}

func (p *MCPProvider) Call(ctx context.Context, remoteName string, args map[string]interface{}) (string, error) {
	s, err := p.connect(ctx)
	if err != nil {
		return "", err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = remoteName
	req.Params.Arguments = args
	resp, err := s.CallTool(ctx, req)
	if err != nil {
		p.reset()
		return "", fmt.Errorf("call %s: %w", remoteName, err)
	}
	text := collectText(resp.Content)
	if resp.IsError {
		if text == "" {
			text = "unknown error"
		}
		return "", fmt.Errorf("%s", text)
	}
	return text, nil
}

func (p *MCPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Close()
	p.session = nil
	return err
}

func (p *MCPProvider) connect(ctx context.Context) (mcpSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session, nil
	}
	s, err := p.dial(ctx, p.cfg)
	if err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", p.cfg.Name, err)
	}
	p.session = s
	logutil.GetLogger(ctx).Info("mcp server connected",
		zap.String("name", p.cfg.Name), zap.String("transport", p.cfg.transport()))
	return s, nil
}

func (p *MCPProvider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		_ = p.session.Close()
		p.session = nil
	}
}

func (c MCPConfig) transport() string {
	if c.Transport != "" {
		return strings.ToLower(c.Transport)
	}
	if c.Command != "" {
		return TransportStdio
	}
	return TransportStreamableHTTP
}

func dialMCP(ctx context.Context, cfg MCPConfig) (mcpSession, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.transport() {
	case TransportStdio:
		// the stdio client starts its subprocess on construction
		c, err = client.NewStdioMCPClient(cfg.Command, envList(cfg.Env), cfg.Args...)
		if err != nil {
			return nil, err
		}
	case TransportSSE:
		c, err = client.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
	case TransportStreamableHTTP:
		c, err = client.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
		if err != nil {
			return nil, err
		}
		if err := c.Start(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported mcp transport: %s", cfg.Transport)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "magent", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return c, nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func collectText(content []mcp.Content) string {
	texts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			texts = append(texts, v.Text)
		case *mcp.TextContent:
			texts = append(texts, v.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func convertSchema(schema mcp.ToolInputSchema) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
