package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iksnae/chief-of-staff/internal"
	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// StdioClient speaks JSON-RPC over a subprocess's stdin and stdout.
type StdioClient struct {
	name string
	log  *zap.Logger

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu      sync.Mutex
	pending map[int64]chan rpcResponse
	closed  bool
	nextID  atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	stop      func() error
}

// DialStdio launches cfg.Command and performs the initialize handshake.
func DialStdio(ctx context.Context, cfg Config) (Client, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("provider %s: empty command", cfg.Name)
	}

	// Not CommandContext: the process outlives the request that started it.
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start provider %s: %w", cfg.Name, err)
	}

	log := internal.Logger().With(zap.String("provider", cfg.Name))
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Debug("provider stderr", zap.String("line", scanner.Text()))
		}
	}()

	c := newStdioClient(cfg.Name, stdin, stdout, func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		return nil
	})
	go func() {
		<-c.done
		_ = cmd.Wait()
	}()

	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("provider %s: initialize: %w", cfg.Name, err)
	}
	log.Info("provider connected")
	return c, nil
}

func newStdioClient(name string, stdin io.WriteCloser, stdout io.Reader, stop func() error) *StdioClient {
	c := &StdioClient{
		name:    name,
		log:     internal.Logger().With(zap.String("provider", name)),
		stdin:   stdin,
		pending: make(map[int64]chan rpcResponse),
		done:    make(chan struct{}),
		stop:    stop,
	}
	go c.readLoop(stdout)
	return c
}

func (c *StdioClient) readLoop(stdout io.Reader) {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.mu.Unlock()
		close(c.done)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Warn("unparseable provider output", zap.Error(err))
			continue
		}
		if resp.ID == nil {
			c.log.Debug("provider notification", zap.String("method", resp.Method))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("provider stream closed", zap.Error(err))
	}
}

func (c *StdioClient) send(msg rpcRequest) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	line = append(line, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.stdin.Write(line); err != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return nil
}

func (c *StdioClient) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch, err := c.register(id)
	if err != nil {
		return nil, err
	}

	if err := c.send(rpcRequest{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrDisconnected
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

// register adds a response slot for id. The reader's drain holds the same
// lock, so a slot is either drained or refused, never orphaned.
func (c *StdioClient) register(id int64) (chan rpcResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDisconnected
	}
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	return ch, nil
}

func (c *StdioClient) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *StdioClient) initialize(ctx context.Context) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}
	_, err := c.request(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "chief-of-staff", "version": "1.0.0"},
	})
	if err != nil {
		return err
	}
	return c.send(rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"})
}

// ListTools pages through tools/list.
func (c *StdioClient) ListTools(ctx context.Context) ([]RemoteTool, error) {
	var (
		tools  []RemoteTool
		cursor string
	)
	for {
		params := map[string]any{}
		if cursor != "" {
			params["cursor"] = cursor
		}
		raw, err := c.request(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var page struct {
			Tools      []RemoteTool `json:"tools"`
			NextCursor string       `json:"nextCursor"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("failed to decode tools/list: %w", err)
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes tools/call.
func (c *StdioClient) CallTool(ctx context.Context, name string, args json.RawMessage) (*CallResult, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	raw, err := c.request(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
	if err != nil {
		return nil, err
	}
	var res CallResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode tools/call: %w", err)
	}
	res.raw = raw
	return &res, nil
}

// Done is closed once the provider's output stream ends.
func (c *StdioClient) Done() <-chan struct{} {
	return c.done
}

// Close stops the provider and waits briefly for the reader to exit.
func (c *StdioClient) Close() error {
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		if c.stop != nil {
			_ = c.stop()
		}
	})
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		c.log.Warn("timeout waiting for provider to exit")
	}
	return nil
}
