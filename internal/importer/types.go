// Package importer drives a spreadsheet import from raw bytes to committed
// inventory items.
//
// A [Session] owns one file and walks it through
// idle -> parsing -> mapping -> validating -> importing -> completed | failed.
// Every transition is an explicit call. Row problems are collected as
// [ImportError] values rather than returned; only the final commit is
// all-or-nothing. A [Service] keeps sessions by id and runs imports in the
// background under a concurrency limit.
package importer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/tabular"
)

var (
	ErrNoTable          = errors.New("no parsed file: upload a file first")
	ErrNoValidatedRows  = errors.New("no validated rows to import")
	ErrImportInProgress = errors.New("import already in progress")
	ErrInvalidPhase     = errors.New("operation not allowed in current phase")
	ErrSessionNotFound  = errors.New("import session not found")
	ErrMappingInvalid   = errors.New("required field missing from mapping")
	ErrImportCancelled  = errors.New("import cancelled")
	ErrCommitFailed     = errors.New("failed to save imported items")
)

// Phase is the workflow stage of a session.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseParsing    Phase = "parsing"
	PhaseMapping    Phase = "mapping"
	PhaseValidating Phase = "validating"
	PhaseImporting  Phase = "importing"
	PhaseCompleted  Phase = "completed"
	PhaseFailed     Phase = "failed"
)

// Terminal reports whether no further progress will be published.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Source is an uploaded file.
type Source struct {
	Name    string
	Data    []byte
	Options tabular.Options
}

// ValidatedRow is one row coerced into typed item values.
type ValidatedRow struct {
	RowNumber          int                 `json:"rowNumber"`
	Name               string              `json:"name"`
	Brand              string              `json:"brand,omitempty"`
	ModelNumber        string              `json:"modelNumber,omitempty"`
	SerialNumber       string              `json:"serialNumber,omitempty"`
	PurchasePrice      decimal.NullDecimal `json:"purchasePrice"`
	PurchaseDate       *time.Time          `json:"purchaseDate,omitempty"`
	WarrantyExpiration *time.Time          `json:"warrantyExpiration,omitempty"`
	Condition          mapping.Condition   `json:"condition"`
	Notes              string              `json:"notes,omitempty"`
	Category           string              `json:"category,omitempty"`
	Room               string              `json:"room,omitempty"`
	Quantity           int                 `json:"quantity"`
}

// ImportError describes a problem with one row. Row is the 1-based line in
// the file, counting the header line. Field is a display label, or empty for
// row-level failures.
type ImportError struct {
	Row     int    `json:"row"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ImportSummary is produced once, when a commit pass succeeds.
type ImportSummary struct {
	TotalRows     int           `json:"totalRows"`
	ImportedCount int           `json:"importedCount"`
	SkippedCount  int           `json:"skippedCount"`
	ErrorCount    int           `json:"errorCount"`
	Errors        []ImportError `json:"errors"`
	Duration      time.Duration `json:"duration"`
}

// Reference is an existing category or room.
type Reference struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// NewItem is the record handed to Persistence.CreateItem.
type NewItem struct {
	Name               string
	Brand              string
	ModelNumber        string
	SerialNumber       string
	PurchasePrice      decimal.NullDecimal
	PurchaseDate       *time.Time
	WarrantyExpiration *time.Time
	Condition          mapping.Condition
	Notes              string
	CategoryID         *uuid.UUID
	RoomID             *uuid.UUID
}

// Persistence is the store an import writes through. One value covers one
// import: creates are staged and become visible only on Commit.
type Persistence interface {
	Categories(ctx context.Context) ([]Reference, error)
	Rooms(ctx context.Context) ([]Reference, error)
	CreateItem(ctx context.Context, item NewItem) (uuid.UUID, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Opener begins a new Persistence for one import.
type Opener func(ctx context.Context) (Persistence, error)

// State is a point-in-time view of a session, published to subscribers.
type State struct {
	SessionID uuid.UUID      `json:"sessionId"`
	FileName  string         `json:"fileName"`
	Phase     Phase          `json:"phase"`
	Progress  float64        `json:"progress"`
	TotalRows int            `json:"totalRows"`
	ValidRows int            `json:"validRows"`
	Errors    []ImportError  `json:"errors"`
	Summary   *ImportSummary `json:"summary,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
