// Package logctx carries the explicit, non-global dependencies every
// component in this module needs: a logger, a clock, and a random source.
//
// The teacher package (internal/observability) builds its logger around
// zerolog's package-level log.Logger; internal/logging goes further and
// keeps a mutable package-global *logrus.Logger. Both are singletons that
// make tests fight over shared state. Here the logger is constructed once
// in cmd/mcp-server and threaded through every constructor as a field of
// Context, never read off a global.
package logctx

import (
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// Context is the explicit dependency bag passed into every component
// constructor in place of module-level singletons.
type Context struct {
	Log   zerolog.Logger
	Clock func() time.Time
	Rand  *rand.Rand

	// DataDir is the root of the persisted-state layout described by the
	// configuration (embedding cache, archival/knowledge collections,
	// dreaming archives).
	DataDir string
}

// New builds a Context with real wall-clock time and a process-seeded
// random source. Tests should construct a Context directly with a fixed
// clock and seeded Rand instead of calling New.
func New(log zerolog.Logger, dataDir string) *Context {
	return &Context{
		Log:     log,
		Clock:   time.Now,
		Rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		DataDir: dataDir,
	}
}

// Now returns the current time per the context's clock, defaulting to
// time.Now when no clock was supplied (zero-value Context).
func (c *Context) Now() time.Time {
	if c == nil || c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

// With returns a shallow copy of the context with a component field added
// to the logger, mirroring the teacher's LoggerWithTrace enrichment pattern
// in internal/observability/ctxlogger.go.
func (c *Context) With(component string) *Context {
	cp := *c
	cp.Log = c.Log.With().Str("component", component).Logger()
	return &cp
}
