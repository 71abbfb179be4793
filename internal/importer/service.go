package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/homeinventory/internal/config"
	"github.com/JonMunkholm/homeinventory/internal/tabular"
)

// Config holds Service settings. Zero values select defaults.
type Config struct {
	MaxFileSize   int64         // 0 = unlimited
	MaxConcurrent int           // imports committing at once
	MaxWait       time.Duration // wait for a free slot
	ImportTimeout time.Duration // per background import
	SessionTTL    time.Duration // idle sessions expire after this
	YieldEvery    int
}

// ConfigFrom converts the IMPORT_* settings.
func ConfigFrom(ic config.ImportConfig) Config {
	return Config{
		MaxFileSize:   ic.MaxFileSize,
		MaxConcurrent: ic.MaxConcurrent,
		MaxWait:       ic.MaxWaitTime,
		ImportTimeout: ic.Timeout,
		SessionTTL:    ic.SessionTTL,
		YieldEvery:    ic.YieldEvery,
	}
}

const (
	DefaultImportTimeout = 10 * time.Minute
	DefaultSessionTTL    = 30 * time.Minute
)

// Service keeps import sessions by id and runs imports in the background.
type Service struct {
	cfg     Config
	limiter *Limiter
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	session    *Session
	lastAccess time.Time
	cancel     context.CancelFunc // non-nil while an import runs
	starting   bool               // StartImport is waiting for a slot
}

// NewService creates a Service.
func NewService(cfg Config, logger *slog.Logger) *Service {
	if cfg.ImportTimeout <= 0 {
		cfg.ImportTimeout = DefaultImportTimeout
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:      cfg,
		limiter:  NewLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		logger:   logger,
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create parses src in a new session and registers it. Sessions whose parse
// fails are not registered.
func (s *Service) Create(ctx context.Context, src Source) (*Session, error) {
	if s.cfg.MaxFileSize > 0 && int64(len(src.Data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", tabular.ErrFileTooLarge, len(src.Data), s.cfg.MaxFileSize)
	}

	sess := NewSession(uuid.New(), SessionOptions{YieldEvery: s.cfg.YieldEvery, Logger: s.logger})
	if err := sess.ParseFile(ctx, src); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[sess.ID()] = &entry{session: sess, lastAccess: time.Now()}
	s.mu.Unlock()
	return sess, nil
}

// Get returns a registered session and refreshes its expiry.
func (s *Service) Get(id uuid.UUID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.lastAccess = time.Now()
	return e.session, nil
}

// Remove cancels any running import, releases subscribers and forgets the
// session.
func (s *Service) Remove(id uuid.UUID) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	var cancel context.CancelFunc
	if ok {
		cancel = e.cancel
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if cancel != nil {
		cancel()
	}
	e.session.Close()
	return nil
}

// Len returns the number of registered sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartImport runs ExecuteImport for session id in the background.
//
// The session's mapping must include every required field and it must hold
// validated rows. A limiter slot is acquired before returning, so callers
// see ErrTooManyImports synchronously. open is called from the background
// goroutine with the import's context. At most one import per session is
// started; concurrent calls get ErrImportInProgress.
func (s *Service) StartImport(ctx context.Context, id uuid.UUID, open Opener) error {
	s.mu.Lock()
	e, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if e.starting || e.cancel != nil {
		s.mu.Unlock()
		return ErrImportInProgress
	}
	if err := e.session.checkImportable(); err != nil {
		s.mu.Unlock()
		return err
	}
	e.starting = true
	e.lastAccess = time.Now()
	s.mu.Unlock()

	if err := s.limiter.Acquire(ctx); err != nil {
		s.mu.Lock()
		e.starting = false
		s.mu.Unlock()
		return err
	}

	importCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ImportTimeout)

	s.mu.Lock()
	e.starting = false
	if s.sessions[id] != e {
		s.mu.Unlock()
		cancel()
		s.limiter.Release()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	e.cancel = cancel
	s.mu.Unlock()

	go s.runImport(importCtx, e, open)
	return nil
}

func (s *Service) runImport(ctx context.Context, e *entry, open Opener) {
	sess := e.session
	logger := s.logger.With("session_id", sess.ID().String())

	var p Persistence
	defer func() {
		if r := recover(); r != nil {
			logger.Error("import panicked", "panic", r)
			if p != nil {
				if err := p.Rollback(context.Background()); err != nil {
					logger.Error("rollback failed", "error", err)
				}
			}
			sess.fail(fmt.Sprintf("internal error: %v", r))
		}
		s.finishImport(e)
		s.limiter.Release()
	}()

	var err error
	p, err = open(ctx)
	if err != nil {
		logger.Error("open persistence failed", "error", err)
		sess.fail(fmt.Sprintf("Failed to start import: %v", err))
		return
	}

	if _, err := sess.ExecuteImport(ctx, p); err != nil {
		logger.Warn("import did not complete", "error", err)
	}
}

// finishImport cancels the import's context and clears it from e.
func (s *Service) finishImport(e *entry) {
	s.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Cancel stops a running import. The import rolls back at its next yield.
func (s *Service) Cancel(id uuid.UUID) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	var cancel context.CancelFunc
	if ok {
		cancel = e.cancel
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// WaitForImports blocks until background imports finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// LimiterStatus reports import slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// Sweep removes sessions idle since before now-SessionTTL. Sessions with a
// running import are kept. It returns the number removed.
func (s *Service) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	var expired []*Session
	for id, e := range s.sessions {
		if e.cancel == nil && !e.starting && e.lastAccess.Before(cutoff) && !e.session.Running() {
			expired = append(expired, e.session)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Close()
	}
	if len(expired) > 0 {
		s.logger.Info("expired import sessions", "count", len(expired))
	}
	return len(expired)
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
