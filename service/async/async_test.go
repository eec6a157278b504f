// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/flowengine/common/errs"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine"
	"github.com/xcherryio/flowengine/persistence"
)

type fakeExecutor struct {
	sync.Mutex
	hints    []engine.JobHint
	acquired []*persistence.Job
	err      error
	started  bool
	stopped  bool
}

func (f *fakeExecutor) Start() error {
	f.Lock()
	defer f.Unlock()
	f.started = true
	return nil
}

func (f *fakeExecutor) TriggerAcquisition(hint engine.JobHint) {
	f.Lock()
	defer f.Unlock()
	f.hints = append(f.hints, hint)
}

func (f *fakeExecutor) AcquireBatch(context.Context, *int64, *int64, int) ([]*persistence.Job, error) {
	return f.acquired, f.err
}

func (f *fakeExecutor) Stop(context.Context) error {
	f.Lock()
	defer f.Unlock()
	f.stopped = true
	return f.err
}

func (f *fakeExecutor) received() []engine.JobHint {
	f.Lock()
	defer f.Unlock()
	return append([]engine.JobHint(nil), f.hints...)
}

// fakeMembership assigns every process instance to owner
type fakeMembership struct {
	self  string
	owner string
	err   error
}

func (m *fakeMembership) GetServerAddress() string {
	return m.self
}

func (m *fakeMembership) GetServerAddressFor(string) string {
	return m.owner
}

func (m *fakeMembership) Stop(context.Context) error {
	return m.err
}

type fakeManagement struct {
	calls []string
	err   error
}

func (f *fakeManagement) RecalculateJobDueDate(_ context.Context, jobId string, skip bool) error {
	if skip {
		f.calls = append(f.calls, "recalculate-skip:"+jobId)
	} else {
		f.calls = append(f.calls, "recalculate:"+jobId)
	}
	return f.err
}

func (f *fakeManagement) SetJobRetries(_ context.Context, jobId string, retries int32) error {
	f.calls = append(f.calls, "retries:"+jobId+":"+strconv.Itoa(int(retries)))
	return f.err
}

func (f *fakeManagement) ForceUnlock(_ context.Context, jobId string) error {
	f.calls = append(f.calls, "unlock:"+jobId)
	return f.err
}

func (f *fakeManagement) SuspendJob(_ context.Context, jobId string) error {
	f.calls = append(f.calls, "suspend:"+jobId)
	return f.err
}

func (f *fakeManagement) ActivateJob(_ context.Context, jobId string) error {
	f.calls = append(f.calls, "activate:"+jobId)
	return f.err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() config.Config {
	return config.Config{
		JobExecutor: config.JobExecutorConfig{LockOwner: "node-1"},
	}
}

func post(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(http.MethodPost, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestNotifyJobsWakesUpLocalExecutor(t *testing.T) {
	executor := &fakeExecutor{}
	svc := NewAsyncServiceImpl(testConfig(), executor, nil, log.NewNopLogger())
	router := NewAsyncServiceGinController(testConfig(), svc, &fakeManagement{}, log.NewNopLogger())

	due := time.Now().Add(time.Minute).UTC().Truncate(time.Millisecond)
	w := post(t, router, PathNotifyJobs, engine.JobHint{ProcessInstanceId: "pi-1", JobId: "j1", DueDate: due})
	assert.Equal(t, http.StatusOK, w.Code)
	hints := executor.received()
	require.Equal(t, 1, len(hints))
	assert.Equal(t, "j1", hints[0].JobId)
	assert.True(t, due.Equal(hints[0].DueDate))

	w = post(t, router, PathNotifyJobs, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 1, len(executor.received()))
}

func TestJobManagementEndpoints(t *testing.T) {
	management := &fakeManagement{}
	svc := NewAsyncServiceImpl(testConfig(), &fakeExecutor{}, nil, log.NewNopLogger())
	router := NewAsyncServiceGinController(testConfig(), svc, management, log.NewNopLogger())

	assert.Equal(t, http.StatusOK, post(t, router, "/internal/api/v1/flowengine/jobs/j1/recalculate-duedate", nil).Code)
	assert.Equal(t, http.StatusOK,
		post(t, router, "/internal/api/v1/flowengine/jobs/j1/recalculate-duedate?skipCustomListeners=true", nil).Code)
	assert.Equal(t, http.StatusBadRequest,
		post(t, router, "/internal/api/v1/flowengine/jobs/j1/recalculate-duedate?skipCustomListeners=maybe", nil).Code)
	assert.Equal(t, http.StatusOK, post(t, router, "/internal/api/v1/flowengine/jobs/j1/unlock", nil).Code)
	assert.Equal(t, http.StatusOK,
		post(t, router, "/internal/api/v1/flowengine/jobs/j1/retries", map[string]int{"retries": 3}).Code)
	assert.Equal(t, http.StatusBadRequest,
		post(t, router, "/internal/api/v1/flowengine/jobs/j1/retries", map[string]int{}).Code)
	assert.Equal(t, http.StatusOK, post(t, router, "/internal/api/v1/flowengine/jobs/j1/suspend", nil).Code)
	assert.Equal(t, http.StatusOK, post(t, router, "/internal/api/v1/flowengine/jobs/j1/activate", nil).Code)

	assert.Equal(t, []string{
		"recalculate:j1", "recalculate-skip:j1", "unlock:j1", "retries:j1:3", "suspend:j1", "activate:j1",
	}, management.calls)
}

func TestJobManagementErrorsMapToStatusCodes(t *testing.T) {
	management := &fakeManagement{}
	svc := NewAsyncServiceImpl(testConfig(), &fakeExecutor{}, nil, log.NewNopLogger())
	router := NewAsyncServiceGinController(testConfig(), svc, management, log.NewNopLogger())

	management.err = errs.NotFound("job %s not found", "j404")
	w := post(t, router, "/internal/api/v1/flowengine/jobs/j404/unlock", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "job j404 not found")

	management.err = errs.UnsupportedOperation("job j1 is not a timer")
	assert.Equal(t, http.StatusBadRequest,
		post(t, router, "/internal/api/v1/flowengine/jobs/j1/recalculate-duedate", nil).Code)

	management.err = errs.OptimisticLockingConflict("job", "j1", 2)
	assert.Equal(t, http.StatusConflict,
		post(t, router, "/internal/api/v1/flowengine/jobs/j1/retries", map[string]int{"retries": 1}).Code)
}

func TestAcquireBatchEndpoint(t *testing.T) {
	executor := &fakeExecutor{acquired: []*persistence.Job{
		{Id: "j1", HandlerType: "async-continuation", ProcessInstanceId: "pi-1", Retries: 3, LockOwner: "node-1"},
	}}
	svc := NewAsyncServiceImpl(testConfig(), executor, nil, log.NewNopLogger())
	router := NewAsyncServiceGinController(testConfig(), svc, &fakeManagement{}, log.NewNopLogger())

	w := post(t, router, PathAcquireBatch, AcquireBatchRequest{Limit: 5})
	require.Equal(t, http.StatusOK, w.Code)
	var resp AcquireBatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, len(resp.Jobs))
	assert.Equal(t, "j1", resp.Jobs[0].Id)
	assert.Equal(t, "node-1", resp.Jobs[0].LockOwner)

	executor.err = errs.InvalidArgument("limit must be positive, got 0")
	w = post(t, router, PathAcquireBatch, AcquireBatchRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClusterHintIsRoutedToTheOwner(t *testing.T) {
	ownerExecutor := &fakeExecutor{}
	// the owner sees the ring differently, a forwarded hint must not bounce back
	ownerMembership := &fakeMembership{self: "owner", owner: "somewhere-else"}
	ownerSvc := NewAsyncServiceImpl(testConfig(), ownerExecutor, ownerMembership, log.NewNopLogger())
	ownerServer := httptest.NewServer(
		NewAsyncServiceGinController(testConfig(), ownerSvc, &fakeManagement{}, log.NewNopLogger()))
	defer ownerServer.Close()

	localExecutor := &fakeExecutor{}
	membership := &fakeMembership{self: "http://local", owner: ownerServer.URL}
	svc := NewAsyncServiceImpl(testConfig(), localExecutor, membership, log.NewNopLogger())

	svc.NotifyNewJobs(engine.JobHint{ProcessInstanceId: "pi-1", JobId: "j1"})
	require.Eventually(t, func() bool { return len(ownerExecutor.received()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "j1", ownerExecutor.received()[0].JobId)
	assert.Empty(t, localExecutor.received())

	// jobs without process instance stay local
	svc.NotifyNewJobs(engine.JobHint{JobId: "cleanup"})
	require.Equal(t, 1, len(localExecutor.received()))
	assert.Equal(t, "cleanup", localExecutor.received()[0].JobId)
}

func TestClusterHintFallsBackToLocalWhenOwnerIsUnreachable(t *testing.T) {
	unreachable := httptest.NewServer(http.NotFoundHandler())
	unreachable.Close()

	localExecutor := &fakeExecutor{}
	membership := &fakeMembership{self: "http://local", owner: unreachable.URL}
	svc := NewAsyncServiceImpl(testConfig(), localExecutor, membership, log.NewNopLogger())

	svc.NotifyNewJobs(engine.JobHint{ProcessInstanceId: "pi-1", JobId: "j1"})
	require.Eventually(t, func() bool { return len(localExecutor.received()) == 1 }, 10*time.Second, 10*time.Millisecond)
}

func TestClusterHintForSelfIsLocal(t *testing.T) {
	localExecutor := &fakeExecutor{}
	membership := &fakeMembership{self: "http://local", owner: "http://local"}
	svc := NewAsyncServiceImpl(testConfig(), localExecutor, membership, log.NewNopLogger())

	svc.NotifyNewJobs(engine.JobHint{ProcessInstanceId: "pi-1", JobId: "j1"})
	assert.Equal(t, 1, len(localExecutor.received()))
}

func TestPulsarHintIsDecodedForLocalExecutor(t *testing.T) {
	executor := &fakeExecutor{}
	p := newPulsarNotifier(config.PulsarConfig{Topic: "hints"}, "node-1", executor, log.NewNopLogger())

	payload, err := json.Marshal(engine.JobHint{ProcessInstanceId: "pi-1", JobId: "j1"})
	require.NoError(t, err)
	p.handleMessage("1:1:0", payload)
	p.handleMessage("1:2:0", []byte("garbage"))

	hints := executor.received()
	require.Equal(t, 1, len(hints))
	assert.Equal(t, "j1", hints[0].JobId)

	// never started
	assert.NoError(t, p.Stop())
}

func TestStartAndStopCombineErrors(t *testing.T) {
	executor := &fakeExecutor{}
	membership := &fakeMembership{self: "a", owner: "a", err: errs.InvalidState("leave failed")}
	svc := NewAsyncServiceImpl(testConfig(), executor, membership, log.NewNopLogger())

	require.NoError(t, svc.Start())
	assert.True(t, executor.started)
	err := svc.Stop(context.Background())
	assert.True(t, executor.stopped)
	assert.ErrorContains(t, err, "leave failed")
}
