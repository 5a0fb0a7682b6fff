package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cankoe/rcon-event-scheduler/internal/database"
	"github.com/cankoe/rcon-event-scheduler/internal/generator"
	"github.com/cankoe/rcon-event-scheduler/internal/models"
	"github.com/cankoe/rcon-event-scheduler/internal/store"
	"github.com/cankoe/rcon-event-scheduler/internal/templates"
)

const adminKey = "admin-key"

type knownTemplates map[string]bool

func (k knownTemplates) Load(ref string) (*templates.Template, error) {
	if !k[ref] {
		return nil, errors.New("missing")
	}
	return &templates.Template{Name: ref}, nil
}

func newTestServer(t *testing.T) (*gin.Engine, store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, filepath.Join(t.TempDir(), "events.db"), time.Second)
	require.NoError(t, err)
	st, err := store.NewSQLite(ctx, db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r := gin.New()
	RegisterRoutes(r, Deps{
		Store:     st,
		Events:    generator.NewService(st, 600),
		Templates: knownTemplates{"mining.json": true},
	})
	RegisterAdminRoutes(r, st, adminKey)
	return r, st
}

func do(r *gin.Engine, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type createResponse struct {
	Event models.Event  `json:"event"`
	Tasks []models.Task `json:"tasks"`
}

func createEvent(t *testing.T, r *gin.Engine) createResponse {
	t.Helper()
	start := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Second)
	w := do(r, http.MethodPost, "/api/events", map[string]any{
		"name":                "Mining Madness",
		"description":         "Mine!",
		"config_ref":          "mining.json",
		"start_time":          start.Format(time.RFC3339),
		"end_time":            start.Add(time.Hour).Format(time.RFC3339),
		"scoreboard_interval": 1800,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp createResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestCreateAndReadEvent(t *testing.T) {
	r, _ := newTestServer(t)
	created := createEvent(t, r)
	assert.NotZero(t, created.Event.ID)
	assert.Len(t, created.Tasks, 6)

	w := do(r, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Events []models.Event `json:"events"`
		Page   int            `json:"page"`
		Limit  int            `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Events, 1)
	assert.Equal(t, 1, list.Page)
	assert.Equal(t, 10, list.Limit)

	w = do(r, http.MethodGet, "/api/events/"+itoa(created.Event.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ev models.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ev))
	assert.Equal(t, created.Event.UniqueName, ev.UniqueName)

	w = do(r, http.MethodGet, "/api/events/"+itoa(created.Event.ID)+"/tasks?limit=2&page=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tasks struct {
		Tasks []models.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	assert.Len(t, tasks.Tasks, 2)

	w = do(r, http.MethodGet, "/api/events/"+itoa(created.Event.ID)+"/winners", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"winners": []}`, w.Body.String())
}

func TestCreateEventValidation(t *testing.T) {
	r, _ := newTestServer(t)
	start := time.Now().UTC().Add(time.Hour)

	w := do(r, http.MethodPost, "/api/events", map[string]any{"name": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/api/events", map[string]any{
		"name": "x", "config_ref": "unknown.json",
		"start_time": start.Format(time.RFC3339), "end_time": start.Add(time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(r, http.MethodPost, "/api/events", map[string]any{
		"name": "x", "config_ref": "mining.json",
		"start_time": start.Format(time.RFC3339), "end_time": start.Add(-time.Hour).Format(time.RFC3339),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEventNotFoundAndBadID(t *testing.T) {
	r, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/events/999", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/events/999/tasks", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/events/abc", nil).Code)
}

func TestAdminRoutes(t *testing.T) {
	r, st := newTestServer(t)
	created := createEvent(t, r)
	key := []string{"X-API-KEY", adminKey}

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodDelete, "/admin/tasks/"+itoa(created.Tasks[0].ID), nil).Code)

	done := created.Tasks[0]
	_, err := st.MarkTaskCompleted(context.Background(), done.ID, 10, time.Now())
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, do(r, http.MethodDelete, "/admin/tasks/"+itoa(done.ID), nil, key...).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/admin/tasks/"+itoa(created.Tasks[1].ID), nil, key...).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/admin/tasks/"+itoa(created.Tasks[1].ID), nil, key...).Code)

	w := do(r, http.MethodGet, "/api/tasks?pending=true&limit=50", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending struct {
		Tasks []models.Task `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	assert.Len(t, pending.Tasks, len(created.Tasks)-2)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/admin/health", nil, key...).Code)

	assert.Equal(t, http.StatusOK, do(r, http.MethodDelete, "/admin/events/"+itoa(created.Event.ID), nil, key...).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/events/"+itoa(created.Event.ID), nil).Code)
	remaining, err := st.ListTasks(context.Background(), store.TaskFilter{EventID: created.Event.ID})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestMapErrorToStatusCode(t *testing.T) {
	code, apiErr := mapErrorToStatusCode(&ApiError{Code: ErrCodeNotFound, Message: "gone"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "gone", apiErr.Message)

	code, _ = mapErrorToStatusCode(store.ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, apiErr = mapErrorToStatusCode(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal_error", apiErr.Code)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
