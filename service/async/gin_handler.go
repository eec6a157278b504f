// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine"
	"github.com/xcherryio/flowengine/persistence"
	"github.com/xcherryio/flowengine/service/common"
)

type (
	SetJobRetriesRequest struct {
		Retries *int32 `json:"retries"`
	}

	AcquireBatchRequest struct {
		PriorityMin *int64 `json:"priorityMin"`
		PriorityMax *int64 `json:"priorityMax"`
		Limit       int    `json:"limit"`
	}

	AcquireBatchResponse struct {
		Jobs []JobResponse `json:"jobs"`
	}

	JobResponse struct {
		Id                string `json:"id"`
		HandlerType       string `json:"handlerType"`
		ProcessInstanceId string `json:"processInstanceId,omitempty"`
		DueDate           string `json:"dueDate"`
		Retries           int32  `json:"retries"`
		LockOwner         string `json:"lockOwner,omitempty"`
	}
)

type ginHandler struct {
	config     config.Config
	logger     log.Logger
	svc        Service
	management JobManagement
}

func newGinHandler(cfg config.Config, svc Service, management JobManagement, logger log.Logger) *ginHandler {
	return &ginHandler{
		config:     cfg,
		logger:     logger,
		svc:        svc,
		management: management,
	}
}

func (h *ginHandler) NotifyJobs(c *gin.Context) {
	var req engine.JobHint
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	if c.Query(QueryForwarded) == "true" {
		// routed by a peer, its view of the ring may differ from ours
		h.svc.NotifyLocalJobs(req)
	} else {
		h.svc.NotifyNewJobs(req)
	}
	successRespond(c)
}

func (h *ginHandler) RecalculateJobDueDate(c *gin.Context) {
	skip := false
	if raw := c.Query("skipCustomListeners"); raw != "" {
		var err error
		if skip, err = strconv.ParseBool(raw); err != nil {
			invalidRequestForError(c, fmt.Errorf("invalid skipCustomListeners %q", raw))
			return
		}
	}
	jobId := c.Param("id")
	if err := h.management.RecalculateJobDueDate(c.Request.Context(), jobId, skip); err != nil {
		h.respondError(c, "RecalculateJobDueDate", jobId, err)
		return
	}
	successRespond(c)
}

func (h *ginHandler) UnlockJob(c *gin.Context) {
	jobId := c.Param("id")
	if err := h.management.ForceUnlock(c.Request.Context(), jobId); err != nil {
		h.respondError(c, "ForceUnlock", jobId, err)
		return
	}
	successRespond(c)
}

func (h *ginHandler) SetJobRetries(c *gin.Context) {
	var req SetJobRetriesRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Retries == nil {
		invalidRequestSchema(c)
		return
	}
	jobId := c.Param("id")
	if err := h.management.SetJobRetries(c.Request.Context(), jobId, *req.Retries); err != nil {
		h.respondError(c, "SetJobRetries", jobId, err)
		return
	}
	successRespond(c)
}

func (h *ginHandler) SuspendJob(c *gin.Context) {
	jobId := c.Param("id")
	if err := h.management.SuspendJob(c.Request.Context(), jobId); err != nil {
		h.respondError(c, "SuspendJob", jobId, err)
		return
	}
	successRespond(c)
}

func (h *ginHandler) ActivateJob(c *gin.Context) {
	jobId := c.Param("id")
	if err := h.management.ActivateJob(c.Request.Context(), jobId); err != nil {
		h.respondError(c, "ActivateJob", jobId, err)
		return
	}
	successRespond(c)
}

func (h *ginHandler) AcquireBatch(c *gin.Context) {
	var req AcquireBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	acquired, err := h.svc.AcquireBatch(c.Request.Context(), req.PriorityMin, req.PriorityMax, req.Limit)
	if err != nil {
		h.respondError(c, "AcquireBatch", "", err)
		return
	}
	resp := AcquireBatchResponse{Jobs: []JobResponse{}}
	for _, job := range acquired {
		resp.Jobs = append(resp.Jobs, NewJobResponse(job))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ginHandler) respondError(c *gin.Context, operation, jobId string, err error) {
	errResp := common.NewErrorFromEngine(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		h.logger.Error("internal API failed", tag.Command(operation), tag.JobId(jobId), tag.Error(err))
	} else {
		h.logger.Debug("internal API rejected", tag.Command(operation), tag.JobId(jobId), tag.Error(err))
	}
	c.JSON(errResp.StatusCode, errResp.Error)
}

func NewJobResponse(job *persistence.Job) JobResponse {
	return JobResponse{
		Id:                job.Id,
		HandlerType:       job.HandlerType,
		ProcessInstanceId: job.ProcessInstanceId,
		DueDate:           job.DueDate.UTC().Format(time.RFC3339Nano),
		Retries:           job.Retries,
		LockOwner:         job.LockOwner,
	}
}

func successRespond(c *gin.Context) {
	c.JSON(http.StatusOK, map[string]string{
		"message": "success",
	})
}

func invalidRequestSchema(c *gin.Context) {
	c.JSON(http.StatusBadRequest, common.ApiErrorResponse{
		Detail: "invalid request schema",
	})
}

func invalidRequestForError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, common.ApiErrorResponse{
		Detail: err.Error(),
	})
}
