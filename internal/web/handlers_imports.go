package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/logging"
	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/tabular"
)

// multipartOverhead is allowed on top of the file size for form fields and
// part headers.
const multipartOverhead = 1 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// sessionResponse describes one import session.
type sessionResponse struct {
	State    importer.State         `json:"state"`
	Mapping  *mapping.MappingResult `json:"mapping,omitempty"`
	Profiles []mapping.ProfileMatch `json:"profiles,omitempty"`
}

type previewResponse struct {
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
	TotalRows int        `json:"totalRows"`
	Delimiter string     `json:"delimiter"`
	Encoding  string     `json:"encoding"`
}

type mappingRequest struct {
	Column int    `json:"column"`
	Field  string `json:"field"`
}

type validateResponse struct {
	TotalRows int                     `json:"totalRows"`
	ValidRows int                     `json:"validRows"`
	Errors    []importer.ImportError  `json:"errors"`
	Rows      []importer.ValidatedRow `json:"rows"`
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, mapping.Catalogue())
}

// handleCreateImport parses an uploaded file into a new session.
//
// Form fields: file (required), delimiter ("," ";" "tab" "|"), noHeaders.
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, r, fmt.Errorf("%w: request exceeds %d bytes", tabular.ErrFileTooLarge, tooBig.Limit))
			return
		}
		respondError(w, r, badRequest("multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errNoFile)
		return
	}
	defer file.Close()

	opts, err := parseOptions(r.FormValue("delimiter"), r.FormValue("noHeaders"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	data, err := tabular.ReadSource(file, maxSize)
	if err != nil {
		respondError(w, r, err)
		return
	}

	sess, err := s.imports.Create(r.Context(), importer.Source{
		Name:    filepath.Base(header.Filename),
		Data:    data,
		Options: opts,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp := s.describe(sess)
	if table := sess.Table(); table != nil {
		profiles, err := s.backend.ListProfiles(r.Context())
		if err != nil {
			logging.FromContext(r.Context()).Warn("list profiles failed", "error", err)
		} else {
			resp.Profiles = mapping.MatchProfiles(profiles, table.Headers)
		}
	}

	logging.WithFields(r.Context(),
		"session_id", sess.ID().String(),
		"file", header.Filename,
		"bytes", len(data),
	).Info("import session created")

	writeJSON(w, r, http.StatusCreated, resp)
}

func parseOptions(delimiter, noHeaders string) (tabular.Options, error) {
	var opts tabular.Options

	d, err := tabular.ParseDelimiter(delimiter)
	if err != nil {
		return opts, badRequest("%v", err)
	}
	opts.Delimiter = d

	if noHeaders != "" {
		b, err := strconv.ParseBool(noHeaders)
		if err != nil {
			return opts, badRequest("noHeaders must be true or false")
		}
		opts.NoHeaders = b
	}
	return opts, nil
}

func (s *Server) describe(sess *importer.Session) sessionResponse {
	resp := sessionResponse{State: sess.Snapshot()}
	if result, ok := sess.Mapping(); ok {
		resp.Mapping = &result
	}
	return resp
}

// session resolves the {id} URL parameter.
func (s *Server) session(r *http.Request) (*importer.Session, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, badRequest("session id must be a UUID")
	}
	return s.imports.Get(id)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.describe(sess))
}

func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.imports.Remove(sess.ID()); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePreview returns the headers and the first rows (?rows=N, default
// IMPORT_PREVIEW_ROWS) of the parsed table.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	n := s.cfg.Import.PreviewRows
	if raw := r.URL.Query().Get("rows"); raw != "" {
		n, err = strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, r, badRequest("rows must be a positive integer"))
			return
		}
	}

	table := sess.Table()
	if table == nil {
		respondError(w, r, importer.ErrNoTable)
		return
	}

	rows := table.Rows
	if len(rows) > n {
		rows = rows[:n]
	}
	writeJSON(w, r, http.StatusOK, previewResponse{
		Headers:   table.Headers,
		Rows:      rows,
		TotalRows: table.RowCount,
		Delimiter: tabular.DelimiterName(table.Delimiter),
		Encoding:  string(table.Encoding),
	})
}

func (s *Server) handleUpdateMapping(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req mappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, badRequest("mapping body: %v", err))
		return
	}
	field, ok := mapping.ParseField(req.Field)
	if !ok {
		respondError(w, r, fmt.Errorf("%w: %q", mapping.ErrUnknownField, req.Field))
		return
	}

	result, err := sess.UpdateMapping(req.Column, field)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleApplyProfile(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	profileID, err := uuid.Parse(chi.URLParam(r, "profileID"))
	if err != nil {
		respondError(w, r, badRequest("profile id must be a UUID"))
		return
	}
	profile, err := s.backend.GetProfile(r.Context(), profileID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	result, err := sess.ApplyProfile(profile)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rows, errs, err := sess.ValidateRows()
	if err != nil {
		respondError(w, r, err)
		return
	}

	preview := rows
	if n := s.cfg.Import.PreviewRows; len(preview) > n {
		preview = preview[:n]
	}
	writeJSON(w, r, http.StatusOK, validateResponse{
		TotalRows: sess.Snapshot().TotalRows,
		ValidRows: len(rows),
		Errors:    errs,
		Rows:      preview,
	})
}

// handleExecute starts the import in the background and answers 202.
// Progress is followed through the progress stream or by polling the
// session.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := s.imports.StartImport(r.Context(), sess.ID(), s.backend.Opener()); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, s.describe(sess))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := s.imports.Cancel(sess.ID()); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, s.describe(sess))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if err := sess.Reset(); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.describe(sess))
}

// handleProgress streams session state via Server-Sent Events. Each change
// is sent as a "progress" event; a "complete" event carrying the final state
// ends the stream once the session reaches completed or failed.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	updates := sess.Subscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := logging.WithFields(r.Context(), "session_id", sess.ID().String())
	var last importer.State
	seq := 0

	for {
		select {
		case state, ok := <-updates:
			if !ok {
				data, _ := json.Marshal(last)
				fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
				_ = rc.Flush()
				return
			}

			last = state
			seq++
			data, _ := json.Marshal(state)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", seq, data)
			if err := rc.Flush(); err != nil {
				logger.Warn("progress stream flush failed", "error", err)
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// handleErrorReport downloads the row errors as an XLSX workbook. After a
// completed import it reports the import summary; before that, the errors
// from the last validation.
func (s *Server) handleErrorReport(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	state := sess.Snapshot()
	summary, ok := sess.Summary()
	if !ok {
		if state.Phase != importer.PhaseValidating {
			respondError(w, r, fmt.Errorf("%w: no errors to report while %s", importer.ErrInvalidPhase, state.Phase))
			return
		}
		summary = importer.ImportSummary{
			TotalRows:  state.TotalRows,
			ErrorCount: len(state.Errors),
			Errors:     state.Errors,
		}
	}

	var buf bytes.Buffer
	if err := importer.WriteErrorReport(&buf, summary); err != nil {
		respondError(w, r, err)
		return
	}

	name := strings.TrimSuffix(state.FileName, filepath.Ext(state.FileName))
	if name == "" {
		name = "import"
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"-errors.xlsx"))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}
