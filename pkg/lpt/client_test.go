package lpt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pinnokio/orchestrator/pkg/config"
	"github.com/pinnokio/orchestrator/pkg/models"
)

type fakeTaskStore struct {
	mu      sync.Mutex
	created []*models.TaskRecord
	failed  map[string]string
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{failed: make(map[string]string)}
}

func (f *fakeTaskStore) CreateTask(_ context.Context, task *models.TaskRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task.Status = models.TaskStatusQueued
	f.created = append(f.created, task)
	return nil
}

func (f *fakeTaskStore) MarkFailed(_ context.Context, taskID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[taskID] = reason
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	tasks []*models.TaskRecord
}

func (f *fakeNotifier) NotifyDispatched(_ context.Context, task *models.TaskRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func validInput() *DispatchInput {
	return &DispatchInput{
		TaskType:  WorkerAPBookkeeper,
		UserID:    "u1",
		CompanyID: "c1",
		ThreadKey: "t1",
		Context: &models.Context{
			ClientUUID:  "cu",
			MandatePath: "clients/cu/mandates/m1",
			CompanyName: "Acme SA",
		},
		Inputs:       map[string]any{"invoice_ids": []string{"i1", "i2"}},
		Instructions: "book these invoices",
	}
}

func newTestClient(workerURL string, tasks TaskStore, notifier Notifier) *Client {
	c := NewClient(config.LPTConfig{
		WorkerBaseURL:   workerURL,
		CallbackBaseURL: "http://orchestrator:8080",
		DispatchTimeout: 2 * time.Second,
	}, tasks, notifier)
	c.newTaskID = func() string { return "T42" }
	return c
}

func TestDispatchSuccess(t *testing.T) {
	var gotPath string
	var gotPayload workerPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tasks := newFakeTaskStore()
	notifier := &fakeNotifier{}
	client := newTestClient(srv.URL, tasks, notifier)

	task, err := client.Dispatch(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, "T42", task.TaskID)
	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Equal(t, "/"+WorkerAPBookkeeper, gotPath)

	// thread_key must always reach the worker
	assert.Equal(t, "t1", gotPayload.ThreadKey)
	assert.Equal(t, "T42", gotPayload.TaskID)
	assert.Equal(t, "http://orchestrator:8080/lpt/callback", gotPayload.CallbackURL)
	assert.Equal(t, "Acme SA", gotPayload.Context.CompanyName)

	// record written before dispatch, notification written
	require.Len(t, tasks.created, 1)
	require.Len(t, notifier.tasks, 1)
	assert.Empty(t, tasks.failed)
}

func TestDispatchWorkerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	tasks := newFakeTaskStore()
	client := newTestClient(srv.URL, tasks, &fakeNotifier{})

	_, err := client.Dispatch(context.Background(), validInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")

	// record exists and was marked failed
	require.Len(t, tasks.created, 1)
	assert.Contains(t, tasks.failed["T42"], "status 400")
}

func TestDispatchWorkerUnreachable(t *testing.T) {
	tasks := newFakeTaskStore()
	client := newTestClient("http://127.0.0.1:1", tasks, &fakeNotifier{})

	_, err := client.Dispatch(context.Background(), validInput())
	require.Error(t, err)
	assert.Contains(t, tasks.failed["T42"], "worker unreachable")
}

func TestDispatchValidation(t *testing.T) {
	client := newTestClient("http://unused", newFakeTaskStore(), &fakeNotifier{})

	tests := []struct {
		name   string
		mutate func(*DispatchInput)
	}{
		{"missing task_type", func(in *DispatchInput) { in.TaskType = "" }},
		{"missing user_id", func(in *DispatchInput) { in.UserID = "" }},
		{"missing thread_key", func(in *DispatchInput) { in.ThreadKey = "" }},
		{"empty context", func(in *DispatchInput) { in.Context = &models.Context{} }},
		{"nil context", func(in *DispatchInput) { in.Context = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(in)
			_, err := client.Dispatch(context.Background(), in)
			assert.True(t, models.IsValidationError(err))
		})
	}
}
