// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/uuid"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/authorization"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/engine/runtime"
	"github.com/xcherryio/flowengine/engine/tree"
	"github.com/xcherryio/flowengine/extensions/memory"
	"github.com/xcherryio/flowengine/persistence/store"
)

const reviewDefinitions = `
processes:
  - key: review
    activities:
      - {id: start, type: startEvent, outgoing: [review]}
      - {id: review, type: userTask, outgoing: [approved]}
      - {id: approved, type: messageCatchEvent, eventName: review-approved, outgoing: [end]}
      - {id: end, type: endEvent}
`

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, checker authorization.Checker) *gin.Engine {
	logger := log.NewNopLogger()
	s, err := store.NewSQLEntityStore(config.SQL{
		DBExtensionName: memory.ExtensionName,
		DatabaseName:    uuid.MustNewUUID(),
	}, logger)
	require.NoError(t, err)
	cfg := config.Config{JobExecutor: config.JobExecutorConfig{LockOwner: "node-1"}}
	require.NoError(t, cfg.JobExecutor.ValidateAndSetDefaults())

	repo := definition.NewRepository(definition.NewCache(), logger)
	registry := jobs.NewRegistry()
	flow := tree.NewFlow(nil)
	require.NoError(t, flow.RegisterJobHandlers(registry))
	executor := command.NewExecutor(s, logger, clock.NewRealTimeSource(), repo, checker, nil, cfg.JobExecutor)
	runtimeService := runtime.NewService(executor, repo, flow, registry, logger)
	return NewAPIServiceGinController(cfg, NewServiceImpl(cfg, runtimeService, logger), logger)
}

func call(t *testing.T, router http.Handler, path string, body any, out any, headers ...string) int {
	var data []byte
	if s, ok := body.(string); ok {
		data = []byte(s)
	} else {
		var err error
		data, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

func TestProcessLifecycleThroughApi(t *testing.T) {
	router := newRouter(t, nil)

	var deployed DeployResponse
	require.Equal(t, http.StatusOK, call(t, router, PathDeploy, reviewDefinitions, &deployed))
	require.Equal(t, 1, len(deployed.Definitions))
	assert.Equal(t, "review", deployed.Definitions[0].Key)
	assert.Equal(t, 1, deployed.Definitions[0].Version)

	var started StartProcessResponse
	require.Equal(t, http.StatusOK, call(t, router, PathStartProcess, StartProcessRequest{
		ProcessDefinitionKey: "review",
		BusinessKey:          "doc-7",
		Variables:            map[string]any{"author": "kim"},
	}, &started))
	require.NotEmpty(t, started.ProcessInstanceId)

	var described DescribeProcessResponse
	require.Equal(t, http.StatusOK, call(t, router, PathDescribeProcess,
		DescribeProcessRequest{ProcessInstanceId: started.ProcessInstanceId}, &described))
	assert.Equal(t, "doc-7", described.BusinessKey)
	assert.Equal(t, "kim", described.Variables["author"])
	require.Equal(t, 1, len(described.Executions))
	root := described.Executions[0]
	assert.Equal(t, "review", root.ActivityId)
	assert.True(t, root.IsActive)

	require.Equal(t, http.StatusOK, call(t, router, PathSignalExecution, SignalExecutionRequest{
		ExecutionId: root.Id,
		Variables:   map[string]any{"verdict": "ok"},
	}, nil))

	var correlated CorrelateMessageResponse
	require.Equal(t, http.StatusOK, call(t, router, PathCorrelateMessage, CorrelateMessageRequest{
		MessageName: "review-approved",
	}, &correlated))
	assert.Equal(t, started.ProcessInstanceId, correlated.ProcessInstanceId)

	require.Equal(t, http.StatusOK, call(t, router, PathDescribeProcess,
		DescribeProcessRequest{ProcessInstanceId: started.ProcessInstanceId}, &described))
	assert.True(t, described.Executions[0].IsEnded)
	assert.Equal(t, "ok", described.Variables["verdict"])

	// ending an ended process instance is a no-op
	assert.Equal(t, http.StatusOK, call(t, router, PathEndExecution,
		EndExecutionRequest{ExecutionId: started.ProcessInstanceId}, nil))
}

func TestApiErrors(t *testing.T) {
	router := newRouter(t, nil)

	assert.Equal(t, http.StatusBadRequest, call(t, router, PathDeploy, "processes: [{key: x}]", nil))
	assert.Equal(t, http.StatusBadRequest, call(t, router, PathStartProcess, map[string]any{}, nil))
	assert.Equal(t, http.StatusNotFound, call(t, router, PathStartProcess,
		StartProcessRequest{ProcessDefinitionKey: "missing"}, nil))
	assert.Equal(t, http.StatusNotFound, call(t, router, PathDescribeProcess,
		DescribeProcessRequest{ProcessInstanceId: "missing"}, nil))
	assert.Equal(t, http.StatusNotFound, call(t, router, PathCorrelateMessage,
		CorrelateMessageRequest{MessageName: "nobody-listens"}, nil))
	assert.Equal(t, http.StatusNotFound, call(t, router, PathEndExecution,
		EndExecutionRequest{ExecutionId: "missing"}, nil))

	var broadcast BroadcastSignalResponse
	require.Equal(t, http.StatusOK, call(t, router, PathBroadcastSignal,
		BroadcastSignalRequest{SignalName: "nobody-listens"}, &broadcast))
	assert.Equal(t, 0, broadcast.Triggered)
}

func TestSubjectHeaderIsAuthorized(t *testing.T) {
	checker := authorization.CheckerFunc(func(_ context.Context, subject string, _ authorization.Check) (bool, error) {
		return subject == "admin", nil
	})
	router := newRouter(t, checker)

	assert.Equal(t, http.StatusForbidden, call(t, router, PathDeploy, reviewDefinitions, nil, HeaderSubject, "guest"))
	assert.Equal(t, http.StatusOK, call(t, router, PathDeploy, reviewDefinitions, nil, HeaderSubject, "admin"))
	assert.Equal(t, http.StatusForbidden, call(t, router, PathStartProcess,
		StartProcessRequest{ProcessDefinitionKey: "review"}, nil, HeaderSubject, "guest"))
}
