package server

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchJournal flags writes to the journal file that did not come from
// this process. The single-writer rule forbids them: an external append
// leaves the index diverged from the log until the next rebuild. This
// watcher makes violations loud instead of silent.
func (s *Server) watchJournal(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("journal watchdog disabled", zap.Error(err))
		return
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors and scripts replace
	// files via rename, which a file watch would lose.
	dir := filepath.Dir(s.jnl.Path())
	if err := watcher.Add(dir); err != nil {
		s.logger.Warn("journal watchdog disabled", zap.Error(err))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.jnl.Path() {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			s.checkJournalSize()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Debug("journal watchdog error", zap.Error(err))
		}
	}
}

// checkJournalSize compares the on-disk size with the journal's own
// bookkeeping. An in-flight append can make the two disagree briefly, so
// a mismatch is rechecked once before sounding the alarm.
func (s *Server) checkJournalSize() {
	if s.journalSizeMatches() {
		return
	}
	time.Sleep(50 * time.Millisecond)
	if s.journalSizeMatches() {
		return
	}

	s.logger.Error("journal modified by another process; index may diverge from the log",
		zap.String("path", s.jnl.Path()),
		zap.Int64("expected_bytes", s.jnl.Size()),
		zap.String("remedy", "stop external writers and run rebuild; the server is the only permitted journal writer"),
	)
}

func (s *Server) journalSizeMatches() bool {
	info, err := os.Stat(s.jnl.Path())
	if err != nil {
		return false
	}
	return info.Size() == s.jnl.Size()
}
