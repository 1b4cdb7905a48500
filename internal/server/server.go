// Package server implements the per-project local server: the long-lived
// process that owns the journal and index for one project and serves the
// loopback JSON protocol. It is the only writer for its project; that
// single-writer rule is what makes divergent index state impossible by
// construction rather than by storage-level locking.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

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

// ErrAlreadyRunning means the project's deterministic address is already
// bound. "Start if not running" is the common call pattern, so callers
// treat this as a clean no-op, not a failure.
var ErrAlreadyRunning = errors.New("server: already running for this project")

// State is the server lifecycle state.
type State int32

// Lifecycle: STOPPED -> STARTING -> READY -> STOPPING -> STOPPED.
const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateStopping
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Server serves one project's knowledge store.
type Server struct {
	cfg      config.ServerConfig
	proj     *project.Project
	jnl      *journal.Journal
	provider embeddings.Provider
	ranker   *search.Ranker
	cache    *index.VectorCache
	logger   *zap.Logger

	// idx is swapped atomically on rebuild; readers pick up a stable
	// snapshot per request and never see a half-built index.
	idx atomic.Pointer[index.Index]

	// writeMu is the single mutation path: every journal append, index
	// add/tombstone, and rebuild swap runs under it, in one total order.
	writeMu sync.Mutex

	state atomic.Int32
	ln    net.Listener

	// pending counts entries journaled but not yet indexed because the
	// embedding provider was down; needsCatchup schedules a background
	// rebuild to pick them up.
	pending      atomic.Int64
	needsCatchup atomic.Bool
}

// New constructs a server for proj. It opens the journal but does not
// bind or replay; call Start then Serve.
func New(proj *project.Project, cfg *config.Config, provider embeddings.Provider, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("server").With(zap.String("project", proj.ID))

	jnl, err := journal.Open(proj.StoreDir(), logger)
	if err != nil {
		return nil, err
	}

	rr, err := reranker.New(cfg.Reranker, logger)
	if err != nil {
		jnl.Close()
		return nil, err
	}

	s := &Server{
		cfg:      cfg.Server,
		proj:     proj,
		jnl:      jnl,
		provider: provider,
		ranker:   search.NewRanker(cfg.Search, provider, rr, logger),
		cache:    index.OpenVectorCache(proj.IndexDir(), provider.ModelVersion(), logger),
		logger:   logger,
	}
	s.state.Store(int32(StateStopped))

	empty, err := index.New()
	if err != nil {
		jnl.Close()
		return nil, err
	}
	s.idx.Store(empty)
	return s, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the bound address. Valid after Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.proj.Addr()
}

// Start binds the project's deterministic address. A bind conflict yields
// ErrAlreadyRunning: another instance is presumed READY on that address.
func (s *Server) Start() error {
	s.state.Store(int32(StateStarting))

	ln, err := net.Listen("tcp", s.proj.Addr())
	if err != nil {
		s.state.Store(int32(StateStopped))
		if isAddrInUse(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, s.proj.Addr())
		}
		return fmt.Errorf("binding %s: %w", s.proj.Addr(), err)
	}
	s.ln = ln
	return nil
}

// Serve replays the journal into the index, transitions to READY, and
// serves until ctx is canceled. It returns after a graceful stop.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("server: Serve called before Start")
	}

	ix, n, err := index.Replay(ctx, s.jnl.ReadAll, s.provider, s.cache, s.logger)
	if err != nil {
		if !errors.Is(err, embeddings.ErrUnavailable) {
			s.ln.Close()
			return err
		}
		// The journal is readable but cannot be embedded right now.
		// Serve anyway: adds still persist (log-only) and the catch-up
		// loop rebuilds once the provider comes back.
		s.logger.Warn("startup replay deferred, embedding provider unavailable", zap.Error(err))
		s.needsCatchup.Store(true)
	} else {
		s.idx.Store(ix)
		s.logger.Info("server ready",
			zap.String("addr", s.Addr()),
			zap.Int("entries_indexed", n),
		)
	}
	s.state.Store(int32(StateReady))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		s.state.Store(int32(StateStopping))
		return s.ln.Close()
	})

	g.Go(func() error {
		s.catchupLoop(ctx)
		return nil
	})

	if !s.cfg.DisableWatchdog {
		g.Go(func() error {
			s.watchJournal(ctx)
			return nil
		})
	}

	g.Go(func() error {
		var conns sync.WaitGroup
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				conns.Wait()
				if s.State() == StateStopping || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			conns.Add(1)
			go func() {
				defer conns.Done()
				s.handleConn(ctx, conn)
			}()
		}
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, context.Canceled) {
		s.shutdown()
		return err
	}
	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	s.cache.Save()
	if err := s.jnl.Close(); err != nil {
		s.logger.Warn("journal close failed", zap.Error(err))
	}
	s.state.Store(int32(StateStopped))
	s.logger.Info("server stopped")
}

// maxRequestLine bounds one request line. A maximum-length text can
// JSON-escape to six bytes per input byte (" and friends); the rest
// covers the request envelope.
const maxRequestLine = entry.MaxTextLen*6 + 8192

// handleConn serves newline-delimited requests until the peer hangs up.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxRequestLine)
	enc := json.NewEncoder(conn)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var req protocol.Request
		var resp protocol.Response
		if err := json.Unmarshal(line, &req); err != nil {
			resp = s.errResponse(protocol.CodeBadRequest, fmt.Errorf("malformed request: %w", err))
		} else {
			resp = s.dispatch(ctx, &req)
		}

		if err := enc.Encode(&resp); err != nil {
			s.logger.Debug("response write failed", zap.Error(err))
			return
		}
	}

	// An over-long line still gets an answer before the connection drops;
	// a silent reset would read as "server unavailable" on the client.
	if errors.Is(sc.Err(), bufio.ErrTooLong) {
		resp := s.errResponse(protocol.CodeBadRequest,
			fmt.Errorf("request line exceeds %d bytes", maxRequestLine))
		if err := enc.Encode(&resp); err != nil {
			s.logger.Debug("response write failed", zap.Error(err))
		}
	}
}

// dispatch routes one request. Request failures become error responses;
// nothing a client sends can take the server down.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) protocol.Response {
	// Identity handshake before anything else: a client that derived this
	// port from a different root must not touch this project's data.
	if req.Project != s.proj.ID {
		s.logger.Warn("rejecting request from colliding project",
			zap.String("peer_project", req.Project),
		)
		return s.errResponse(protocol.CodeAddressCollision,
			fmt.Errorf("project identity mismatch: server owns %s", s.proj.ID))
	}

	switch req.Cmd {
	case protocol.CmdSearch:
		return s.handleSearch(ctx, req)
	case protocol.CmdAdd:
		return s.handleAdd(ctx, req)
	case protocol.CmdTombstone:
		return s.handleTombstone(ctx, req)
	case protocol.CmdRebuild:
		return s.handleRebuild(ctx)
	case protocol.CmdStatus:
		return s.handleStatus()
	case protocol.CmdPing:
		return protocol.Response{Project: s.proj.ID, Status: "ok"}
	default:
		return s.errResponse(protocol.CodeBadRequest, fmt.Errorf("unknown cmd %q", req.Cmd))
	}
}

func (s *Server) handleSearch(ctx context.Context, req *protocol.Request) protocol.Response {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SearchTimeout)
	defer cancel()

	limit := req.Limit
	if limit <= 0 {
		limit = 5
	}

	start := time.Now()
	results, err := s.ranker.Search(ctx, s.idx.Load(), req.Query, limit)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return s.errResponse(protocol.CodeTimeout, err)
		case errors.Is(err, search.ErrSearchUnavailable):
			return s.errResponse(protocol.CodeSearchUnavailable, err)
		case errors.Is(err, search.ErrEmptyQuery), errors.Is(err, search.ErrInvalidLimit):
			return s.errResponse(protocol.CodeBadRequest, err)
		default:
			return s.errResponse(protocol.CodeInternal, err)
		}
	}

	out := make([]protocol.SearchResult, len(results))
	for i, r := range results {
		out[i] = protocol.SearchResult{
			ID:        r.Entry.ID,
			Text:      r.Entry.Text,
			Kind:      r.Entry.Kind,
			Tags:      r.Entry.Tags,
			Priority:  r.Entry.Priority,
			CreatedAt: r.Entry.CreatedAt,
			Source:    r.Entry.Source,
			Score:     r.Score,
		}
	}
	return protocol.Response{
		Project:      s.proj.ID,
		Results:      out,
		SearchTimeMS: time.Since(start).Seconds() * 1000,
	}
}

func (s *Server) handleAdd(ctx context.Context, req *protocol.Request) protocol.Response {
	if req.Entry == nil {
		return s.errResponse(protocol.CodeBadRequest, errors.New("add requires an entry"))
	}

	// The server owns id and timestamp assignment; whatever the client
	// sent there is discarded.
	e := *req.Entry
	e.ID = ""
	e.Normalize()
	if err := e.Validate(); err != nil {
		return s.errResponse(protocol.CodeBadRequest, err)
	}

	if s.cfg.MinScoreHint > 0 && e.ScoreHint != nil && *e.ScoreHint < s.cfg.MinScoreHint {
		// Low-confidence capture gated out before it ever hits the log.
		s.logger.Debug("discarding low-confidence entry",
			zap.Float64("score_hint", *e.ScoreHint),
			zap.Float64("threshold", s.cfg.MinScoreHint),
		)
		return protocol.Response{Project: s.proj.ID, Status: "discarded"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AddTimeout)
	defer cancel()

	// Embed outside the writer section so a slow provider does not block
	// other writes; the entry enters the total write order only below.
	emb, embedErr := s.provider.Embed(ctx, e.Text)
	if embedErr != nil {
		switch {
		case errors.Is(embedErr, context.DeadlineExceeded):
			return s.errResponse(protocol.CodeTimeout, embedErr)
		case errors.Is(embedErr, embeddings.ErrUnavailable):
			// Retryable for writes: persist log-only and defer indexing.
		default:
			return s.errResponse(protocol.CodeInternal, embedErr)
		}
	}

	s.writeMu.Lock()
	e.ID = uuid.New().String()
	e.CreatedAt = s.jnl.NextCreatedAt(time.Now().UTC())
	if err := s.jnl.Append(journal.Record{Op: journal.OpAdd, Entry: &e}); err != nil {
		s.writeMu.Unlock()
		return s.errResponse(protocol.CodeIOError, err)
	}

	if embedErr != nil {
		s.writeMu.Unlock()
		s.pending.Add(1)
		s.needsCatchup.Store(true)
		s.logger.Warn("entry journaled without embedding, indexing deferred",
			zap.String("id", e.ID),
			zap.Error(embedErr),
		)
		return protocol.Response{Project: s.proj.ID, ID: e.ID, Pending: true}
	}

	// Index before acknowledging: capture-then-immediately-search is a
	// hard contract, not best-effort.
	if err := s.idx.Load().Add(ctx, &e, emb); err != nil {
		s.writeMu.Unlock()
		// Journaled but not indexed; the catch-up rebuild repairs it.
		s.pending.Add(1)
		s.needsCatchup.Store(true)
		s.logger.Error("journaled entry failed to index", zap.String("id", e.ID), zap.Error(err))
		return protocol.Response{Project: s.proj.ID, ID: e.ID, Pending: true}
	}
	s.writeMu.Unlock()

	s.cache.Put(e.ID, emb.Dense)
	return protocol.Response{Project: s.proj.ID, ID: e.ID}
}

func (s *Server) handleTombstone(ctx context.Context, req *protocol.Request) protocol.Response {
	if req.ID == "" {
		return s.errResponse(protocol.CodeBadRequest, errors.New("tombstone requires an id"))
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, ok := s.idx.Load().Get(req.ID); !ok {
		return s.errResponse(protocol.CodeBadRequest, fmt.Errorf("unknown entry id %s", req.ID))
	}
	if err := s.jnl.Append(journal.Record{Op: journal.OpTombstone, Ref: req.ID}); err != nil {
		return s.errResponse(protocol.CodeIOError, err)
	}
	if err := s.idx.Load().Tombstone(ctx, req.ID); err != nil {
		return s.errResponse(protocol.CodeInternal, err)
	}
	return protocol.Response{Project: s.proj.ID, Status: "ok"}
}

func (s *Server) handleRebuild(ctx context.Context) protocol.Response {
	n, err := s.rebuild(ctx)
	if err != nil {
		switch {
		case errors.Is(err, embeddings.ErrUnavailable):
			return s.errResponse(protocol.CodeEmbeddingUnavailable, err)
		case errors.Is(err, journal.ErrIO):
			return s.errResponse(protocol.CodeIOError, err)
		default:
			return s.errResponse(protocol.CodeInternal, err)
		}
	}
	return protocol.Response{Project: s.proj.ID, Status: "ok", EntriesIndexed: n}
}

func (s *Server) handleStatus() protocol.Response {
	return protocol.Response{
		Project:        s.proj.ID,
		Status:         s.State().String(),
		EntriesIndexed: s.idx.Load().Count(),
		PendingCount:   int(s.pending.Load()),
	}
}

// rebuild replays the journal into a shadow index and swaps it in. Writes
// are blocked for the duration; reads keep hitting the old snapshot and
// the swap itself is a single atomic store.
func (s *Server) rebuild(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ix, n, err := index.Replay(ctx, s.jnl.ReadAll, s.provider, s.cache, s.logger)
	if err != nil {
		return 0, err
	}
	s.idx.Store(ix)
	s.pending.Store(0)
	s.needsCatchup.Store(false)
	return n, nil
}

// catchupLoop retries indexing for journal-only entries whenever the
// embedding provider was unavailable at write or startup time.
func (s *Server) catchupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.needsCatchup.Load() {
			continue
		}

		n, err := s.rebuild(ctx)
		if err != nil {
			s.logger.Debug("catch-up rebuild still failing", zap.Error(err))
			continue
		}
		s.logger.Info("catch-up rebuild complete", zap.Int("entries_indexed", n))
	}
}

func (s *Server) errResponse(code string, err error) protocol.Response {
	return protocol.Response{
		Project: s.proj.ID,
		Error:   err.Error(),
		Code:    code,
	}
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE)
}
