// Package execctx tracks where commands run during a deploy invocation: a stack
// of (directory, host) frames that tasks push and pop around blocks of work.
package execctx

import (
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/unleashedtech/cmsdeploy/internal/logging"
	"github.com/unleashedtech/cmsdeploy/internal/remote"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// Frame is one pushed scope.
type Frame struct {
	Dir  string
	Host remote.Host
}

// Context is the per-invocation execution context. It is not shared between
// invocations; the mutex only guards Depth readers such as tests and observers.
type Context struct {
	runner remote.Runner
	store  *vars.Store
	logger *slog.Logger
	base   Frame

	// DefaultTimeout applies to commands that do not pass Timeout or NoTimeout.
	DefaultTimeout time.Duration

	mu     sync.Mutex
	frames []Frame
}

// New returns a Context whose base frame is host with no directory (the login
// directory on the remote side).
func New(runner remote.Runner, store *vars.Store, host remote.Host, logger *slog.Logger) *Context {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Context{
		runner: runner,
		store:  store,
		logger: logger,
		base:   Frame{Host: host},
	}
}

// Vars returns the store templates are resolved against.
func (c *Context) Vars() *vars.Store { return c.store }

// Host returns the host of the current frame.
func (c *Context) Host() remote.Host { return c.Top().Host }

// Top returns the current frame, or the base frame when nothing is pushed.
func (c *Context) Top() Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.frames); n > 0 {
		return c.frames[n-1]
	}
	return c.base
}

// Depth returns the number of pushed frames.
func (c *Context) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

// WithScope pushes a frame for dir (template-resolved, and joined onto the
// current directory when relative) on host (nil keeps the current host), runs fn,
// and pops the frame on every exit path, including panics.
func (c *Context) WithScope(dir string, host *remote.Host, fn func() error) error {
	resolved, err := c.store.Resolve(dir)
	if err != nil {
		return fmt.Errorf("resolve directory %q: %w", dir, err)
	}

	top := c.Top()
	next := Frame{Dir: join(top.Dir, resolved), Host: top.Host}
	if host != nil {
		next.Host = *host
	}

	depth := c.push(next)
	defer c.pop(depth)

	return fn()
}

// Within is WithScope on the current host.
func (c *Context) Within(dir string, fn func() error) error {
	return c.WithScope(dir, nil, fn)
}

func (c *Context) push(f Frame) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return len(c.frames)
}

// pop removes the frame pushed at depth together with anything a misbehaving
// callee left above it.
func (c *Context) pop(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if depth-1 < len(c.frames) {
		c.frames = c.frames[:depth-1]
	}
}

func join(base, dir string) string {
	switch {
	case dir == "":
		return base
	case path.IsAbs(dir), base == "":
		return path.Clean(dir)
	default:
		return path.Join(base, dir)
	}
}
