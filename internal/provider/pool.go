package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iksnae/chief-of-staff/internal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Pool owns one lazily opened connection per configured provider and shares
// it across sessions. A dropped connection is forgotten together with its
// cached tool list; the next use reconnects.
type Pool struct {
	dial  Dialer
	log   *zap.Logger
	group singleflight.Group

	mu      sync.Mutex
	order   []string
	configs map[string]Config
	conns   map[string]*conn
	closed  bool
}

type conn struct {
	client Client

	mu    sync.Mutex
	tools []Tool
}

// NewPool creates a pool. dial defaults to DialStdio.
func NewPool(configs []Config, dial Dialer) *Pool {
	if dial == nil {
		dial = DialStdio
	}
	p := &Pool{
		dial:    dial,
		log:     internal.Logger().Named("providers"),
		configs: make(map[string]Config, len(configs)),
		conns:   make(map[string]*conn),
	}
	for _, c := range configs {
		if _, dup := p.configs[c.Name]; dup || c.Name == "" {
			continue
		}
		p.configs[c.Name] = c
		p.order = append(p.order, c.Name)
	}
	return p
}

// Names lists configured providers in config order.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

// Has reports whether a provider is configured.
func (p *Pool) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.configs[name]
	return ok
}

// Connected reports whether a live connection exists, without dialing.
func (p *Pool) Connected(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.conns[name]
	return ok
}

func (p *Pool) get(ctx context.Context, name string) (*conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("provider pool closed")
	}
	if c, ok := p.conns[name]; ok {
		p.mu.Unlock()
		return c, nil
	}
	cfg, ok := p.configs[name]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}

	v, err, _ := p.group.Do("dial:"+name, func() (any, error) {
		p.mu.Lock()
		if c, ok := p.conns[name]; ok {
			p.mu.Unlock()
			return c, nil
		}
		p.mu.Unlock()

		client, err := p.dial(context.WithoutCancel(ctx), cfg)
		if err != nil {
			return nil, err
		}
		c := &conn{client: client}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			_ = client.Close()
			return nil, errors.New("provider pool closed")
		}
		p.conns[name] = c
		p.mu.Unlock()

		go p.watch(name, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*conn), nil
}

// watch drops the pooled connection once it disconnects.
func (p *Pool) watch(name string, c *conn) {
	<-c.client.Done()
	p.mu.Lock()
	if p.conns[name] == c {
		delete(p.conns, name)
		p.log.Warn("provider disconnected; will reconnect on next use", zap.String("provider", name))
	}
	p.mu.Unlock()
}

// ProviderTools returns one provider's tools, listing them on first use.
func (p *Pool) ProviderTools(ctx context.Context, name string) ([]Tool, error) {
	c, err := p.get(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	cached := c.tools
	c.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	v, err, _ := p.group.Do("list:"+name, func() (any, error) {
		remote, err := c.client.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		tools := make([]Tool, 0, len(remote))
		for _, r := range remote {
			tools = append(tools, Tool{
				Provider:    name,
				Name:        r.Name,
				Description: r.Description,
				InputSchema: r.InputSchema,
			})
		}
		c.mu.Lock()
		c.tools = tools
		c.mu.Unlock()
		return tools, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Tool), nil
}

// Tools lists every provider's tools. Providers that fail to connect or
// enumerate are skipped with a warning.
func (p *Pool) Tools(ctx context.Context) []Tool {
	var all []Tool
	for _, name := range p.Names() {
		tools, err := p.ProviderTools(ctx, name)
		if err != nil {
			p.log.Warn("skipping provider tools", zap.String("provider", name), zap.Error(err))
			continue
		}
		all = append(all, tools...)
	}
	return all
}

// Call invokes a tool on a provider and returns its textual result. A result
// flagged as an error by the provider is returned as a ToolError.
func (p *Pool) Call(ctx context.Context, providerName, tool string, args []byte) (string, error) {
	c, err := p.get(ctx, providerName)
	if err != nil {
		return "", err
	}
	res, err := c.client.CallTool(ctx, tool, args)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", &internal.ToolError{Tool: QualifiedName(providerName, tool), Err: errors.New(res.Text())}
	}
	return res.Text(), nil
}

// Close disconnects every provider.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	conns := p.conns
	p.conns = make(map[string]*conn)
	p.mu.Unlock()

	var errs []error
	for name, c := range conns {
		if err := c.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
