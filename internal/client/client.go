// Package client is the short-lived side of the knowledge store: it
// resolves the project, computes the server address, and speaks the
// loopback protocol, optionally auto-starting the server or falling back
// to a cold one-shot search when no server can be reached.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/embeddings"
	"github.com/fyrsmithlabs/knowd/internal/entry"
	"github.com/fyrsmithlabs/knowd/internal/index"
	"github.com/fyrsmithlabs/knowd/internal/journal"
	"github.com/fyrsmithlabs/knowd/internal/project"
	"github.com/fyrsmithlabs/knowd/internal/protocol"
	"github.com/fyrsmithlabs/knowd/internal/reranker"
	"github.com/fyrsmithlabs/knowd/internal/search"
)

// Common errors.
var (
	// ErrServerUnavailable means no server answered at the project's
	// derived address, after auto-start if enabled. Retryable; search
	// callers may fall back to ColdSearch.
	ErrServerUnavailable = errors.New("client: server unavailable")

	// ErrAddressCollision means a server answered but belongs to a
	// different project root whose derived port collided with ours.
	// Failing is mandatory: querying the wrong project's data silently
	// would be far worse than an error.
	ErrAddressCollision = errors.New("client: project address collision")
)

// RemoteError is a failure reported by the server for one request.
type RemoteError struct {
	Code    string
	Message string
}

// Error implements error.
func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error (%s): %s", e.Code, e.Message)
}

// Options tunes client behavior.
type Options struct {
	// DialTimeout bounds one connection attempt.
	DialTimeout time.Duration

	// RequestTimeout bounds one request round trip.
	RequestTimeout time.Duration

	// AutoStart spawns a detached server when the address refuses, waits
	// up to StartWait for readiness, then retries once.
	AutoStart bool
	StartWait time.Duration

	Logger *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = 2 * time.Second
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = 35 * time.Second
	}
	if o.StartWait == 0 {
		o.StartWait = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Client talks to one project's server.
type Client struct {
	proj   *project.Project
	opts   Options
	logger *zap.Logger
}

// New creates a client for proj.
func New(proj *project.Project, opts Options) *Client {
	opts.applyDefaults()
	return &Client{
		proj:   proj,
		opts:   opts,
		logger: opts.Logger.Named("client"),
	}
}

// Search runs a hybrid search on the server.
func (c *Client) Search(ctx context.Context, query string, limit int) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Cmd: protocol.CmdSearch, Query: query, Limit: limit})
}

// Add stores one entry. The server assigns id and timestamp.
func (c *Client) Add(ctx context.Context, e *entry.Entry) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Cmd: protocol.CmdAdd, Entry: e})
}

// Tombstone logically deletes an entry by id.
func (c *Client) Tombstone(ctx context.Context, id string) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Cmd: protocol.CmdTombstone, ID: id})
}

// Rebuild asks the server to replay the journal from scratch.
func (c *Client) Rebuild(ctx context.Context) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Cmd: protocol.CmdRebuild})
}

// Status reports server state and entry counts.
func (c *Client) Status(ctx context.Context) (*protocol.Response, error) {
	return c.do(ctx, &protocol.Request{Cmd: protocol.CmdStatus})
}

// Ping checks reachability and identity.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.roundTrip(ctx, &protocol.Request{Cmd: protocol.CmdPing, Project: c.proj.ID})
	return err
}

// do sends one request, auto-starting the server on connection refusal
// when configured.
func (c *Client) do(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	req.Project = c.proj.ID

	resp, err := c.roundTrip(ctx, req)
	if err == nil {
		return resp, nil
	}
	var remote *RemoteError
	if errors.As(err, &remote) || errors.Is(err, ErrAddressCollision) {
		// The server answered; its verdict stands.
		return resp, err
	}
	if !isConnRefused(err) {
		return nil, fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}

	if !c.opts.AutoStart {
		return nil, fmt.Errorf("%w: nothing listening on %s", ErrServerUnavailable, c.proj.Addr())
	}

	if err := c.autoStart(ctx); err != nil {
		return nil, err
	}

	resp, err = c.roundTrip(ctx, req)
	if err != nil {
		if errors.As(err, &remote) || errors.Is(err, ErrAddressCollision) {
			return resp, err
		}
		return nil, fmt.Errorf("%w: retry after auto-start failed: %v", ErrServerUnavailable, err)
	}
	return resp, nil
}

// roundTrip performs one connect-send-receive cycle and converts protocol
// errors into typed Go errors.
func (c *Client) roundTrip(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	d := net.Dialer{Timeout: c.opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.proj.Addr())
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.opts.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}

	// A search response can carry several maximum-length texts on one
	// line, so decode from the stream rather than scanning a capped line.
	var resp protocol.Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// Identity handshake: either side noticing a mismatch is fatal for
	// the call.
	if resp.Code == protocol.CodeAddressCollision || (resp.Project != "" && resp.Project != c.proj.ID) {
		return nil, fmt.Errorf("%w: server at %s owns project %s, want %s",
			ErrAddressCollision, c.proj.Addr(), resp.Project, c.proj.ID)
	}
	if !resp.OK() {
		return &resp, &RemoteError{Code: resp.Code, Message: resp.Error}
	}
	return &resp, nil
}

// autoStart spawns a detached server for the project and waits for it to
// answer a ping.
func (c *Client) autoStart(ctx context.Context) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: cannot locate own binary for auto-start: %v", ErrServerUnavailable, err)
	}

	cmd := exec.Command(exe, "serve", "--root", c.proj.Root)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: auto-start failed: %v", ErrServerUnavailable, err)
	}
	// Detach; the server outlives this client.
	if err := cmd.Process.Release(); err != nil {
		c.logger.Debug("process release failed", zap.Error(err))
	}

	c.logger.Info("auto-started server",
		zap.String("addr", c.proj.Addr()),
		zap.String("root", c.proj.Root),
	)

	deadline := time.Now().Add(c.opts.StartWait)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Ping(ctx); err == nil {
			return nil
		} else if errors.Is(err, ErrAddressCollision) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("%w: server did not become ready within %s", ErrServerUnavailable, c.opts.StartWait)
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// ColdSearch is the one-shot fallback when no server is reachable: load
// the journal, build a throwaway index, answer, exit. Slower than asking
// a warm server and it still needs a working embedding provider, but it
// requires no running process. It never writes anything.
func ColdSearch(ctx context.Context, proj *project.Project, cfg *config.Config, provider embeddings.Provider, query string, limit int, logger *zap.Logger) ([]search.Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cold")
	logger.Info("no server reachable, answering from a cold one-shot index")

	rr, err := reranker.New(cfg.Reranker, logger)
	if err != nil {
		return nil, err
	}

	cache := index.OpenVectorCache(proj.IndexDir(), provider.ModelVersion(), logger)
	read := func(fn func(journal.Record) error) error {
		return journal.ReadFile(filepath.Join(proj.StoreDir(), journal.FileName), logger, fn)
	}
	ix, _, err := index.Replay(ctx, read, provider, cache, logger)
	if err != nil {
		return nil, err
	}

	ranker := search.NewRanker(cfg.Search, provider, rr, logger)
	return ranker.Search(ctx, ix, query, limit)
}
