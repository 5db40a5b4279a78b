package queue

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/queue-api/internal/middleware"
	"github.com/jwalitptl/queue-api/internal/model"
	apperrors "github.com/jwalitptl/queue-api/pkg/errors"
	"github.com/jwalitptl/queue-api/pkg/messaging"
)

type call struct {
	op       string
	id       uuid.UUID
	name     string
	exam     string
	position int
}

type fakeService struct {
	calls     []call
	entries   []*model.QueueEntry
	completed []*model.Patient
	result    *model.Patient
	err       error
}

func (f *fakeService) record(c call) { f.calls = append(f.calls, c) }

func (f *fakeService) List(ctx context.Context) ([]*model.QueueEntry, error) {
	f.record(call{op: "list"})
	return f.entries, f.err
}

func (f *fakeService) ListCompleted(ctx context.Context) ([]*model.Patient, error) {
	f.record(call{op: "completed"})
	return f.completed, f.err
}

func (f *fakeService) Add(ctx context.Context, name, examination string) (*model.Patient, error) {
	f.record(call{op: "add", name: name, exam: examination})
	if f.err != nil {
		return nil, f.err
	}
	return &model.Patient{ID: uuid.New(), Name: name, Examination: examination, Status: model.PatientStatusWaiting, QueuePosition: 1}, nil
}

func (f *fakeService) Update(ctx context.Context, id uuid.UUID, name, examination string) error {
	f.record(call{op: "update", id: id, name: name, exam: examination})
	return f.err
}

func (f *fakeService) MarkCompleted(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	f.record(call{op: "complete", id: id})
	return f.result, f.err
}

func (f *fakeService) RestorePatient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	f.record(call{op: "restore", id: id})
	return f.result, f.err
}

func (f *fakeService) Remove(ctx context.Context, id uuid.UUID) error {
	f.record(call{op: "remove", id: id})
	return f.err
}

func (f *fakeService) Reorder(ctx context.Context, id uuid.UUID, newPosition int) error {
	f.record(call{op: "reorder", id: id, position: newPosition})
	return f.err
}

func (f *fakeService) ClearAll(ctx context.Context) error {
	f.record(call{op: "clear"})
	return f.err
}

func (f *fakeService) ClearCompleted(ctx context.Context) error {
	f.record(call{op: "clear_completed"})
	return f.err
}

func newEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	middleware.RegisterValidators()

	engine := gin.New()
	engine.Use(middleware.RequestID(), middleware.ErrorHandler())
	h.RegisterRoutes(engine.Group("/api/v1"))
	return engine
}

func do(engine *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestListReturnsEntries(t *testing.T) {
	svc := &fakeService{entries: []*model.QueueEntry{{
		Patient:        &model.Patient{ID: uuid.New(), Name: "Alice", Examination: "xray", Status: model.PatientStatusWaiting, QueuePosition: 1},
		ActualPosition: 1,
	}}}
	engine := newEngine(NewHandler(svc, nil, "events"))

	w := do(engine, http.MethodGet, "/api/v1/queue", "")
	require.Equal(t, http.StatusOK, w.Code)

	env := decode(t, w)
	assert.Equal(t, "success", env.Status)

	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0]["name"])
	assert.Equal(t, float64(1), entries[0]["actual_position"])
	assert.Equal(t, float64(0), entries[0]["patients_ahead"])
	assert.Equal(t, "waiting", entries[0]["status"])
}

func TestAddPatient(t *testing.T) {
	svc := &fakeService{}
	engine := newEngine(NewHandler(svc, nil, "events"))

	w := do(engine, http.MethodPost, "/api/v1/queue/patients", `{"name":"Alice","examination":"xray"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []call{{op: "add", name: "Alice", exam: "xray"}}, svc.calls)
}

func TestAddPatientValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"examination":"xray"}`},
		{"blank name", `{"name":"  ","examination":"xray"}`},
		{"blank examination", `{"name":"Alice","examination":""}`},
		{"malformed", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			engine := newEngine(NewHandler(svc, nil, "events"))

			w := do(engine, http.MethodPost, "/api/v1/queue/patients", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, svc.calls)
		})
	}
}

func TestPatientRoutes(t *testing.T) {
	id := uuid.New()
	base := "/api/v1/queue/patients/" + id.String()

	tests := []struct {
		method, path, body string
		want               call
	}{
		{http.MethodPut, base, `{"name":"Bob","examination":"MRI"}`, call{op: "update", id: id, name: "Bob", exam: "MRI"}},
		{http.MethodPost, base + "/complete", "", call{op: "complete", id: id}},
		{http.MethodPost, base + "/restore", "", call{op: "restore", id: id}},
		{http.MethodDelete, base, "", call{op: "remove", id: id}},
		{http.MethodPut, base + "/position", `{"position":0}`, call{op: "reorder", id: id, position: 0}},
		{http.MethodDelete, "/api/v1/queue", "", call{op: "clear"}},
		{http.MethodDelete, "/api/v1/queue/completed", "", call{op: "clear_completed"}},
		{http.MethodGet, "/api/v1/queue/completed", "", call{op: "completed"}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			svc := &fakeService{}
			engine := newEngine(NewHandler(svc, nil, "events"))

			w := do(engine, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []call{tt.want}, svc.calls)
		})
	}
}

func TestCompleteReturnsNullOnNoop(t *testing.T) {
	svc := &fakeService{}
	engine := newEngine(NewHandler(svc, nil, "events"))

	w := do(engine, http.MethodPost, "/api/v1/queue/patients/"+uuid.NewString()+"/complete", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(decode(t, w).Data))
}

func TestReorderRequiresPosition(t *testing.T) {
	svc := &fakeService{}
	engine := newEngine(NewHandler(svc, nil, "events"))

	w := do(engine, http.MethodPut, "/api/v1/queue/patients/"+uuid.NewString()+"/position", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.calls)
}

func TestMalformedIDIsBadRequest(t *testing.T) {
	svc := &fakeService{}
	engine := newEngine(NewHandler(svc, nil, "events"))

	w := do(engine, http.MethodPost, "/api/v1/queue/patients/not-a-uuid/complete", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.calls)
}

func TestServiceErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", apperrors.NotFound("patient", nil), http.StatusNotFound},
		{"validation", apperrors.Validation("name must not be blank"), http.StatusBadRequest},
		{"storage", apperrors.Storage("update", context.Canceled), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{err: tt.err}
			engine := newEngine(NewHandler(svc, nil, "events"))

			w := do(engine, http.MethodPut, "/api/v1/queue/patients/"+uuid.NewString(), `{"name":"A","examination":"B"}`)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestEventsUnavailableWithoutBroker(t *testing.T) {
	engine := newEngine(NewHandler(&fakeService{}, nil, "events"))

	w := do(engine, http.MethodGet, "/api/v1/queue/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventsStream(t *testing.T) {
	broker := messaging.NewLocalBroker(10)
	defer broker.Close()

	h := NewHandler(&fakeService{}, broker, "queue.events")
	server := httptest.NewServer(newEngine(h))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/queue/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, _ := nextEvent()
	require.Equal(t, "ready", name)

	id := uuid.New()
	require.NoError(t, broker.Publish(ctx, "queue.events", model.QueueEvent{Type: model.EventPatientAdded, PatientID: &id, Position: 1}))

	name, data := nextEvent()
	assert.Equal(t, model.EventPatientAdded, name)

	var evt model.QueueEvent
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, id, *evt.PatientID)
	assert.Equal(t, 1, evt.Position)
}

func TestCloseStreamsEndsEventStream(t *testing.T) {
	broker := messaging.NewLocalBroker(10)
	defer broker.Close()

	h := NewHandler(&fakeService{}, broker, "queue.events")
	server := httptest.NewServer(newEngine(h))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/v1/queue/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event:ready\n", line)

	h.CloseStreams()
	h.CloseStreams()

	_, err = io.ReadAll(reader)
	assert.NoError(t, err)
}
