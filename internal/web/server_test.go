package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/homeinventory/internal/config"
	"github.com/JonMunkholm/homeinventory/internal/importer"
	"github.com/JonMunkholm/homeinventory/internal/mapping"
	"github.com/JonMunkholm/homeinventory/internal/store/memory"
)

const inventoryCSV = "Item Name,Brand,Price,Room\n" +
	"Desk,IKEA,$120.50,office\n" +
	"Lamp,,abc,Office\n" +
	",NoName,5,Office\n"

type testEnv struct {
	srv     *Server
	store   *memory.Store
	imports *importer.Service
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 5 * time.Second},
		Import: config.ImportDefaults(),
	}
	for _, m := range mutate {
		m(cfg)
	}

	imports := importer.NewService(importer.ConfigFrom(cfg.Import), slog.New(slog.NewTextHandler(io.Discard, nil)))

	store := memory.New()
	store.AddRoom("Office")

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = imports.WaitForImports(ctx)
	})

	return &testEnv{srv: NewServer(imports, store, cfg), store: store, imports: imports}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) upload(t *testing.T, name, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if name != "" {
		part, err := mw.CreateFormFile("file", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

// createSession uploads inventoryCSV and returns the new session id.
func (e *testEnv) createSession(t *testing.T) uuid.UUID {
	t.Helper()
	rec := e.upload(t, "inventory.csv", inventoryCSV, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[sessionResponse](t, rec).State.SessionID
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, rec).Code
}

func (e *testEnv) waitPhase(t *testing.T, id uuid.UUID, want importer.Phase) importer.State {
	t.Helper()
	var state importer.State
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/imports/"+id.String(), nil)
		state = decode[sessionResponse](t, rec).State
		return state.Phase == want
	}, 5*time.Second, 10*time.Millisecond)
	return state
}

func TestFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/fields", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	fields := decode[[]mapping.FieldInfo](t, rec)
	require.Len(t, fields, 12)
	assert.Equal(t, mapping.FieldName, fields[0].Field)
	assert.True(t, fields[0].Required)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestImportFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "inventory.csv", inventoryCSV, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[sessionResponse](t, rec)
	assert.Equal(t, importer.PhaseMapping, created.State.Phase)
	assert.Equal(t, 3, created.State.TotalRows)
	require.NotNil(t, created.Mapping)
	assert.True(t, created.Mapping.IsValid())
	base := "/api/imports/" + created.State.SessionID.String()

	rec = env.do(t, http.MethodGet, base+"/preview?rows=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decode[previewResponse](t, rec)
	assert.Equal(t, []string{"Item Name", "Brand", "Price", "Room"}, preview.Headers)
	assert.Len(t, preview.Rows, 1)
	assert.Equal(t, 3, preview.TotalRows)
	assert.Equal(t, "comma", preview.Delimiter)

	rec = env.do(t, http.MethodPost, base+"/validate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	validated := decode[validateResponse](t, rec)
	assert.Equal(t, 3, validated.TotalRows)
	assert.Equal(t, 2, validated.ValidRows)
	assert.Len(t, validated.Errors, 2)

	rec = env.do(t, http.MethodGet, base+"/errors.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inventory-errors.xlsx")
	wb, err := excelize.OpenReader(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, wb.GetSheetList(), "Import Errors")
	require.NoError(t, wb.Close())

	rec = env.do(t, http.MethodPost, base+"/execute", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	state := env.waitPhase(t, created.State.SessionID, importer.PhaseCompleted)
	require.NotNil(t, state.Summary)
	assert.Equal(t, 2, state.Summary.ImportedCount)

	items := env.store.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Desk", items[0].Name)
	assert.NotNil(t, items[0].RoomID)
}

func TestProgressStream(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/imports/" + id.String()

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, base+"/validate", nil).Code)
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, base+"/execute", nil).Code)
	env.waitPhase(t, id, importer.PhaseCompleted)

	rec := env.do(t, http.MethodGet, base+"/progress", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "id: 1\nevent: progress\n")
	assert.Contains(t, body, "event: complete\n")
	assert.Contains(t, body, `"phase":"completed"`)
	assert.True(t, strings.Index(body, "event: progress") < strings.Index(body, "event: complete"))
}

func TestProgressStream_EndsWhenSessionRemoved(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/imports/" + id.String() + "/progress")
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "id: 1\n", line)

	require.NoError(t, env.imports.Remove(id))

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Contains(t, string(rest), "event: complete")
}

func TestCreateImport_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		fields   map[string]string
		maxSize  int64
		wantCode int
		wantErr  string
	}{
		{"no file", "", "", nil, 0, http.StatusBadRequest, "FILE006"},
		{"empty file", "empty.csv", "  \n", nil, 0, http.StatusBadRequest, "FILE002"},
		{"no headers", "blank.csv", ",,\n", nil, 0, http.StatusBadRequest, "FILE003"},
		{"bad workbook", "broken.xlsx", "not a zip", nil, 0, http.StatusBadRequest, "FILE005"},
		{"too large", "big.csv", inventoryCSV, nil, 16, http.StatusRequestEntityTooLarge, "FILE001"},
		{"bad delimiter", "inventory.csv", inventoryCSV, map[string]string{"delimiter": "#"}, 0, http.StatusBadRequest, "REQ001"},
		{"bad noHeaders", "inventory.csv", inventoryCSV, map[string]string{"noHeaders": "sometimes"}, 0, http.StatusBadRequest, "REQ001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *config.Config) {
				if tt.maxSize > 0 {
					c.Import.MaxFileSize = tt.maxSize
				}
			})

			rec := env.upload(t, tt.file, tt.content, tt.fields)

			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantErr, errorCode(t, rec))
			assert.Equal(t, 0, env.imports.Len())
		})
	}
}

func TestCreateImport_Options(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "rows.csv", "Desk|Office\nChair|Garage\n", map[string]string{
		"delimiter": "pipe",
		"noHeaders": "true",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[sessionResponse](t, rec)
	assert.Equal(t, 2, created.State.TotalRows)
	require.NotNil(t, created.Mapping)
	assert.Equal(t, "Column A", created.Mapping.Mappings[0].Header)
}

func TestSessionLookup(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/imports/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "IMP002", errorCode(t, rec))

	rec = env.do(t, http.MethodGet, "/api/imports/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "REQ001", errorCode(t, rec))
}

func TestUpdateMapping(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/imports/" + env.createSession(t).String()

	tests := []struct {
		name     string
		body     any
		wantCode int
		check    func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:     "clear name makes mapping invalid",
			body:     mappingRequest{Column: 0, Field: ""},
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				result := decode[mapping.MappingResult](t, rec)
				assert.False(t, result.IsValid())
				assert.Equal(t, []mapping.Field{mapping.FieldName}, result.MissingRequired)
			},
		},
		{
			name:     "assign by label",
			body:     mappingRequest{Column: 3, Field: "Notes"},
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				result := decode[mapping.MappingResult](t, rec)
				assert.Equal(t, mapping.FieldNotes, result.Mappings[3].Field)
			},
		},
		{
			name:     "move name to brand column",
			body:     mappingRequest{Column: 1, Field: "name"},
			wantCode: http.StatusOK,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				result := decode[mapping.MappingResult](t, rec)
				assert.Equal(t, mapping.FieldName, result.Mappings[1].Field)
				assert.True(t, result.IsValid())
			},
		},
		{
			name:     "unknown field",
			body:     mappingRequest{Column: 0, Field: "colour"},
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "MAP002", errorCode(t, rec))
			},
		},
		{
			name:     "column out of range",
			body:     mappingRequest{Column: 9, Field: "brand"},
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "MAP002", errorCode(t, rec))
			},
		},
		{
			name:     "malformed body",
			body:     map[string]string{"column": "first"},
			wantCode: http.StatusBadRequest,
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				assert.Equal(t, "REQ001", errorCode(t, rec))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPut, base+"/mapping", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestExecute_Preconditions(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/imports/" + id.String()

	rec := env.do(t, http.MethodPost, base+"/execute", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IMP005", errorCode(t, rec))

	rec = env.do(t, http.MethodPut, base+"/mapping", mappingRequest{Column: 0, Field: ""})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/execute", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "MAP001", errorCode(t, rec))
}

func TestErrorReport_WrongPhase(t *testing.T) {
	env := newTestEnv(t)
	base := "/api/imports/" + env.createSession(t).String()

	rec := env.do(t, http.MethodGet, base+"/errors.xlsx", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IMP007", errorCode(t, rec))
}

func TestResetAndDelete(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)
	base := "/api/imports/" + id.String()

	rec := env.do(t, http.MethodPost, base+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reset := decode[sessionResponse](t, rec)
	assert.Equal(t, importer.PhaseIdle, reset.State.Phase)
	assert.Nil(t, reset.Mapping)

	rec = env.do(t, http.MethodPost, base+"/validate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IMP007", errorCode(t, rec))

	rec = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.imports.Len())

	rec = env.do(t, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProfiles(t *testing.T) {
	env := newTestEnv(t)
	id := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/profiles", saveProfileRequest{Name: "Spreadsheet export", SessionID: id})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	saved := decode[mapping.Profile](t, rec)
	assert.NotEqual(t, uuid.Nil, saved.ID)
	assert.Equal(t, mapping.FieldPurchasePrice, saved.Fields["price"])

	rec = env.do(t, http.MethodPost, "/api/profiles", saveProfileRequest{Name: "Spreadsheet export", SessionID: id})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DB001", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/api/profiles", saveProfileRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/profiles", saveProfileRequest{
		Name:    "Bad field",
		Headers: []string{"Thing"},
		Fields:  map[string]mapping.Field{"Thing": "colour"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]mapping.Profile](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/profiles/match?headers=item+name,BRAND,price,room,extra", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	matches := decode[[]mapping.ProfileMatch](t, rec)
	require.Len(t, matches, 1)
	assert.Equal(t, 1.0, matches[0].Score)

	rec = env.do(t, http.MethodGet, "/api/profiles/match?headers=a,b", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]mapping.ProfileMatch](t, rec))

	// A second upload of the same layout is offered the profile.
	rec = env.upload(t, "again.csv", inventoryCSV, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[sessionResponse](t, rec)
	require.Len(t, second.Profiles, 1)
	assert.Equal(t, saved.ID, second.Profiles[0].Profile.ID)

	applyPath := "/api/imports/" + second.State.SessionID.String() + "/profile/"
	rec = env.do(t, http.MethodPost, applyPath+saved.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[mapping.MappingResult](t, rec).IsValid())

	rec = env.do(t, http.MethodPost, applyPath+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DB003", errorCode(t, rec))

	rec = env.do(t, http.MethodDelete, "/api/profiles/"+saved.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodDelete, "/api/profiles/"+saved.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 4, health.Imports.MaxConcurrent)
}

func TestAPIKeyRequired(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	})

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/api/fields", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", nil).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/fields", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2, ImportsPerMinute: 1}
	})

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/fields", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/fields", nil).Code)

	rec := env.do(t, http.MethodGet, "/api/fields", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE001", errorCode(t, rec))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := newRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("a"))
	assert.True(t, rl.allow("a"))
	assert.False(t, rl.allow("a"))
	assert.True(t, rl.allow("b"))

	now = now.Add(time.Minute)
	assert.True(t, rl.allow("a"))

	now = now.Add(5 * time.Minute)
	rl.allow("c")
	rl.mu.Lock()
	_, kept := rl.visitors["b"]
	rl.mu.Unlock()
	assert.False(t, kept, "stale visitor should be swept")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{badRequest("x"), http.StatusBadRequest},
		{importer.ErrSessionNotFound, http.StatusNotFound},
		{importer.ErrTooManyImports, http.StatusServiceUnavailable},
		{importer.ErrImportInProgress, http.StatusConflict},
		{importer.ErrMappingInvalid, http.StatusUnprocessableEntity},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
