package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/tabular"
)

// DefaultYieldEvery is how many rows ExecuteImport processes between
// scheduler yields and cancellation checks.
const DefaultYieldEvery = 10

// listenerBuffer is the channel capacity for each subscriber.
const listenerBuffer = 16

// Session holds the state of one import workflow. All methods are safe for
// concurrent use.
type Session struct {
	id         uuid.UUID
	yieldEvery int
	logger     *slog.Logger

	mu        sync.Mutex
	fileName  string
	phase     Phase
	table     *tabular.Table
	mapping   mapping.MappingResult
	validated []ValidatedRow
	errors    []ImportError
	progress  float64
	summary   *ImportSummary
	errMsg    string
	running   bool
	updatedAt time.Time
	listeners []chan State
}

// SessionOptions configures a Session. Zero values select defaults.
type SessionOptions struct {
	YieldEvery int
	Logger     *slog.Logger
}

// NewSession creates an idle session.
func NewSession(id uuid.UUID, opts SessionOptions) *Session {
	if opts.YieldEvery <= 0 {
		opts.YieldEvery = DefaultYieldEvery
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		id:         id,
		yieldEvery: opts.YieldEvery,
		logger:     opts.Logger.With("session_id", id.String()),
		phase:      PhaseIdle,
		updatedAt:  time.Now(),
	}
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Table returns the parsed table, or nil before a successful parse.
func (s *Session) Table() *tabular.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}

// Mapping returns the current mapping. ok is false before a successful parse.
func (s *Session) Mapping() (mapping.MappingResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapping, s.table != nil
}

// ValidatedRows returns a copy of the rows from the last ValidateRows call.
func (s *Session) ValidatedRows() []ValidatedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ValidatedRow(nil), s.validated...)
}

// Summary returns the import summary once the session has completed.
func (s *Session) Summary() (ImportSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.summary == nil {
		return ImportSummary{}, false
	}
	return *s.summary, true
}

// Running reports whether ExecuteImport is in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ============================================================================
// Workflow
// ============================================================================

// ParseFile parses src and auto-maps its headers, landing in PhaseMapping.
// A parse error moves the session to PhaseFailed and is returned.
func (s *Session) ParseFile(ctx context.Context, src Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrImportInProgress
	}
	s.clearLocked()
	s.fileName = src.Name
	s.setPhaseLocked(PhaseParsing)
	s.mu.Unlock()

	start := time.Now()
	table, err := tabular.ParseSource(src.Name, src.Data, src.Options)
	if err != nil {
		s.fail(err.Error())
		s.logger.Warn("parse failed", "file", src.Name, "error", err)
		return fmt.Errorf("parse %s: %w", src.Name, err)
	}
	result := mapping.AnalyzeHeaders(table.Headers)

	s.mu.Lock()
	s.table = table
	s.mapping = result
	s.setPhaseLocked(PhaseMapping)
	s.mu.Unlock()

	s.logger.Info("file parsed",
		"file", src.Name,
		"rows", table.RowCount,
		"columns", table.ColumnCount,
		"delimiter", tabular.DelimiterName(table.Delimiter),
		"encoding", table.Encoding,
		"mapping_valid", result.IsValid(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// UpdateMapping assigns field to column (FieldNone clears it). Allowed while
// mapping or validating; validated rows are discarded and the session
// returns to PhaseMapping.
func (s *Session) UpdateMapping(column int, field mapping.Field) (mapping.MappingResult, error) {
	return s.editMapping(func(r mapping.MappingResult) (mapping.MappingResult, error) {
		return mapping.UpdateMapping(r, column, field)
	})
}

// ApplyProfile applies a saved profile to the current mapping.
func (s *Session) ApplyProfile(p mapping.Profile) (mapping.MappingResult, error) {
	return s.editMapping(func(r mapping.MappingResult) (mapping.MappingResult, error) {
		return mapping.ApplyProfile(r, p), nil
	})
}

func (s *Session) editMapping(edit func(mapping.MappingResult) (mapping.MappingResult, error)) (mapping.MappingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return mapping.MappingResult{}, ErrNoTable
	}
	if s.phase != PhaseMapping && s.phase != PhaseValidating {
		return s.mapping, fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}

	next, err := edit(s.mapping)
	if err != nil {
		return s.mapping, err
	}
	s.mapping = next
	s.validated = nil
	s.errors = nil
	s.setPhaseLocked(PhaseMapping)
	return next, nil
}

// ValidateRows coerces every row through the current mapping and replaces
// any earlier validation results.
func (s *Session) ValidateRows() ([]ValidatedRow, []ImportError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table == nil {
		return nil, nil, ErrNoTable
	}
	if s.phase != PhaseMapping && s.phase != PhaseValidating {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}

	rows, errs := Validate(s.table, s.mapping)
	s.validated = rows
	s.errors = errs
	s.setPhaseLocked(PhaseValidating)

	s.logger.Info("rows validated",
		"file", s.fileName,
		"total", s.table.RowCount,
		"valid", len(rows),
		"errors", len(errs),
	)
	return append([]ValidatedRow(nil), rows...), append([]ImportError(nil), errs...), nil
}

// Reset drops the table, mapping, validated rows and errors and returns to
// PhaseIdle. It is refused while an import is running.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrImportInProgress
	}
	s.clearLocked()
	s.fileName = ""
	s.setPhaseLocked(PhaseIdle)
	return nil
}

func (s *Session) clearLocked() {
	s.table = nil
	s.mapping = mapping.MappingResult{}
	s.validated = nil
	s.errors = nil
	s.progress = 0
	s.summary = nil
	s.errMsg = ""
}

// ============================================================================
// Progress
// ============================================================================

// Snapshot returns the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Subscribe returns a channel that receives a State on every change,
// starting with the current one. Slow receivers miss intermediate updates.
// The channel is closed when the session reaches a terminal phase or is
// closed.
func (s *Session) Subscribe() <-chan State {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, listenerBuffer)
	ch <- s.stateLocked()
	if s.phase.Terminal() {
		close(ch)
		return ch
	}
	s.listeners = append(s.listeners, ch)
	return ch
}

// Close releases every subscriber.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeListenersLocked()
}

func (s *Session) stateLocked() State {
	st := State{
		SessionID: s.id,
		FileName:  s.fileName,
		Phase:     s.phase,
		Progress:  s.progress,
		ValidRows: len(s.validated),
		Errors:    append([]ImportError(nil), s.errors...),
		Error:     s.errMsg,
		UpdatedAt: s.updatedAt,
	}
	if s.table != nil {
		st.TotalRows = s.table.RowCount
	}
	if s.summary != nil {
		sum := *s.summary
		st.Summary = &sum
	}
	return st
}

// setPhaseLocked records a transition and notifies listeners; terminal
// phases close them.
func (s *Session) setPhaseLocked(p Phase) {
	s.phase = p
	s.notifyLocked(p.Terminal())
	if p.Terminal() {
		s.closeListenersLocked()
	}
}

// notifyLocked sends the current state to all listeners without blocking.
// A final state evicts the oldest buffered update when a listener is full,
// so every subscriber sees how the session ended.
func (s *Session) notifyLocked(final bool) {
	s.updatedAt = time.Now()
	st := s.stateLocked()
	for _, ch := range s.listeners {
		select {
		case ch <- st:
			continue
		default:
		}
		if !final {
			continue // listener is slow, skip this update
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *Session) closeListenersLocked() {
	for _, ch := range s.listeners {
		close(ch)
	}
	s.listeners = nil
}

func (s *Session) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errMsg = msg
	s.running = false
	s.setPhaseLocked(PhaseFailed)
}
