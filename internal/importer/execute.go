package importer

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ExecuteImport writes every validated row through p and commits once.
//
// Categories and rooms are loaded once and matched by trimmed,
// case-insensitive name; unknown names leave the relation unset. A row with
// quantity N is created N times. A failed create is recorded and the batch
// continues. Every yieldEvery rows, and once more before committing, the
// loop checks ctx; a cancelled import is rolled back. A failed commit is rolled back and
// returned, and no summary is produced. p is rolled back as well when the
// session is not ready to import. A failed or completed session is refused
// with ErrInvalidPhase and keeps its state until Reset.
func (s *Session) ExecuteImport(ctx context.Context, p Persistence) (ImportSummary, error) {
	rows, prior, totalRows, err := s.beginImport()
	if err != nil {
		if rbErr := p.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return ImportSummary{}, err
	}

	start := time.Now()
	s.logger.Info("import started", "rows", len(rows), "total_rows", totalRows)

	categories, err := loadReferences(ctx, p.Categories)
	if err != nil {
		return ImportSummary{}, s.abort(ctx, p, fmt.Sprintf("Failed to load categories: %v", err), err)
	}
	rooms, err := loadReferences(ctx, p.Rooms)
	if err != nil {
		return ImportSummary{}, s.abort(ctx, p, fmt.Sprintf("Failed to load rooms: %v", err), err)
	}

	var (
		errs     = append([]ImportError(nil), prior...)
		imported int
		rowsOK   int
	)

	for i, row := range rows {
		if i%s.yieldEvery == 0 {
			runtime.Gosched()
			if ctx.Err() != nil {
				return ImportSummary{}, s.abort(ctx, p, ErrImportCancelled.Error(),
					fmt.Errorf("%w: %w", ErrImportCancelled, ctx.Err()))
			}
		}

		item := NewItem{
			Name:               row.Name,
			Brand:              row.Brand,
			ModelNumber:        row.ModelNumber,
			SerialNumber:       row.SerialNumber,
			PurchasePrice:      row.PurchasePrice,
			PurchaseDate:       row.PurchaseDate,
			WarrantyExpiration: row.WarrantyExpiration,
			Condition:          row.Condition,
			Notes:              row.Notes,
			CategoryID:         categories.resolve(row.Category),
			RoomID:             rooms.resolve(row.Room),
		}

		created := 0
		for n := 0; n < row.Quantity; n++ {
			if _, err := p.CreateItem(ctx, item); err != nil {
				errs = append(errs, ImportError{
					Row:     row.RowNumber,
					Message: "Failed to create item: " + err.Error(),
				})
				continue
			}
			created++
		}
		imported += created
		if created > 0 {
			rowsOK++
		}

		s.setProgress(float64(i+1) / float64(len(rows)))
	}

	if ctx.Err() != nil {
		return ImportSummary{}, s.abort(ctx, p, ErrImportCancelled.Error(),
			fmt.Errorf("%w: %w", ErrImportCancelled, ctx.Err()))
	}

	if err := p.Commit(ctx); err != nil {
		return ImportSummary{}, s.abort(ctx, p, "Failed to save imported items: "+err.Error(),
			fmt.Errorf("%w: %w", ErrCommitFailed, err))
	}

	summary := ImportSummary{
		TotalRows:     totalRows,
		ImportedCount: imported,
		SkippedCount:  totalRows - rowsOK,
		ErrorCount:    len(errs),
		Errors:        errs,
		Duration:      time.Since(start),
	}
	s.complete(summary)

	s.logger.Info("import completed",
		"imported", summary.ImportedCount,
		"skipped", summary.SkippedCount,
		"errors", summary.ErrorCount,
		"duration_ms", summary.Duration.Milliseconds(),
	)
	return summary, nil
}

// beginImport moves the session to PhaseImporting and hands back the rows to
// write, the validation errors so far and the table's row count.
func (s *Session) beginImport() ([]ValidatedRow, []ImportError, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, nil, 0, ErrImportInProgress
	}
	// Failed and completed are left only through Reset.
	if s.phase != PhaseValidating && s.phase != PhaseMapping {
		return nil, nil, 0, fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}
	if len(s.validated) == 0 {
		s.errMsg = ErrNoValidatedRows.Error()
		s.setPhaseLocked(PhaseFailed)
		return nil, nil, 0, ErrNoValidatedRows
	}

	s.running = true
	s.progress = 0
	s.summary = nil
	s.errMsg = ""
	s.setPhaseLocked(PhaseImporting)

	total := len(s.validated)
	if s.table != nil {
		total = s.table.RowCount
	}
	return append([]ValidatedRow(nil), s.validated...), append([]ImportError(nil), s.errors...), total, nil
}

// checkImportable reports why StartImport must refuse the session, or nil.
func (s *Session) checkImportable() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.table == nil:
		return ErrNoTable
	case !s.mapping.IsValid():
		return ErrMappingInvalid
	case s.running:
		return ErrImportInProgress
	case len(s.validated) == 0:
		return ErrNoValidatedRows
	case s.phase != PhaseValidating:
		return fmt.Errorf("%w: %s", ErrInvalidPhase, s.phase)
	}
	return nil
}

// abort rolls p back, fails the session with msg and returns err.
// Rollback runs on a context detached from cancellation so a cancelled
// import still releases its transaction.
func (s *Session) abort(ctx context.Context, p Persistence, msg string, err error) error {
	if rbErr := p.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
		s.logger.Error("rollback failed", "error", rbErr)
	}
	s.fail(msg)
	s.logger.Warn("import failed", "reason", msg)
	return err
}

func (s *Session) setProgress(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v > s.progress {
		s.progress = v
	}
	s.notifyLocked(false)
}

func (s *Session) complete(summary ImportSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = 1
	s.summary = &summary
	s.errors = summary.Errors
	s.running = false
	s.setPhaseLocked(PhaseCompleted)
}

// referenceIndex resolves names to ids by trimmed, case-insensitive match.
type referenceIndex map[string]uuid.UUID

func loadReferences(ctx context.Context, load func(context.Context) ([]Reference, error)) (referenceIndex, error) {
	refs, err := load(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(referenceIndex, len(refs))
	for _, r := range refs {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if _, dup := idx[key]; !dup {
			idx[key] = r.ID
		}
	}
	return idx, nil
}

func (idx referenceIndex) resolve(name string) *uuid.UUID {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil
	}
	id, ok := idx[key]
	if !ok {
		return nil
	}
	return &id
}
