package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// Transport sends MCP requests to a server
type Transport interface {
	Send(ctx context.Context, method string, params any) (any, error)
	Close() error
}

var (
	// Global registry of local servers
	localServers = make(map[string]*Server)
	localMu      sync.RWMutex
)

// RegisterLocalServer makes a server reachable through NewLocalTransport
func RegisterLocalServer(server *Server) {
	localMu.Lock()
	defer localMu.Unlock()
	localServers[server.name] = server
}

// ClearLocalServers clears all registered local servers (for testing)
func ClearLocalServers() {
	localMu.Lock()
	defer localMu.Unlock()
	localServers = make(map[string]*Server)
}

// LocalTransport implements in-process MCP communication. Requests take
// the same JSON-RPC path as HTTP clients, minus the network.
type LocalTransport struct {
	server *Server
	nextID atomic.Int64
}

var _ Transport = (*LocalTransport)(nil)

// NewLocalTransport connects to a registered local server
func NewLocalTransport(serverName string) (*LocalTransport, error) {
	localMu.RLock()
	server, exists := localServers[serverName]
	localMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("local server not found: %s", serverName)
	}
	return &LocalTransport{server: server}, nil
}

// Send calls method with params encoded as JSON and returns the result.
// JSON-RPC errors are returned as *Error.
func (t *LocalTransport) Send(ctx context.Context, method string, params any) (any, error) {
	req := &Request{
		JSONRPC: JSONRPCVersion,
		ID:      json.RawMessage(strconv.FormatInt(t.nextID.Add(1), 10)),
		Method:  method,
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params: %w", err)
		}
		req.Params = raw
	}

	resp := t.server.Handle(ctx, req)
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Close closes the transport
func (t *LocalTransport) Close() error {
	// Local transport doesn't need cleanup
	return nil
}
