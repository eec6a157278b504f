// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/authorization"
	"github.com/xcherryio/flowengine/service/common"
)

// HeaderSubject carries the authenticated subject of a request, set by the gateway in front of the server
const HeaderSubject = "X-Flowengine-Subject"

type ginHandler struct {
	config config.Config
	logger log.Logger
	svc    Service
}

func newGinHandler(cfg config.Config, svc Service, logger log.Logger) *ginHandler {
	return &ginHandler{
		config: cfg,
		logger: logger,
		svc:    svc,
	}
}

func (h *ginHandler) Deploy(c *gin.Context) {
	document, err := io.ReadAll(c.Request.Body)
	if err != nil || len(document) == 0 {
		invalidRequestSchema(c)
		return
	}
	resp, errResp := h.svc.Deploy(h.requestContext(c), document)
	if errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ginHandler) StartProcess(c *gin.Context) {
	var req StartProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	h.logger.Debug("received StartProcess API request", tag.Value(h.toJson(req)))

	resp, errResp := h.svc.StartProcess(h.requestContext(c), req)
	if errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ginHandler) DescribeProcess(c *gin.Context) {
	var req DescribeProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}

	resp, errResp := h.svc.DescribeProcess(h.requestContext(c), req)
	if errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ginHandler) Signal(c *gin.Context) {
	var req SignalExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	h.logger.Debug("received Signal API request", tag.Value(h.toJson(req)))

	if errResp := h.svc.Signal(h.requestContext(c), req); errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	successRespond(c)
}

func (h *ginHandler) CorrelateMessage(c *gin.Context) {
	var req CorrelateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	h.logger.Debug("received CorrelateMessage API request", tag.Value(h.toJson(req)))

	resp, errResp := h.svc.CorrelateMessage(h.requestContext(c), req)
	if errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ginHandler) BroadcastSignal(c *gin.Context) {
	var req BroadcastSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}
	h.logger.Debug("received BroadcastSignal API request", tag.Value(h.toJson(req)))

	resp, errResp := h.svc.BroadcastSignal(h.requestContext(c), req)
	if errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ginHandler) EndExecution(c *gin.Context) {
	var req EndExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidRequestSchema(c)
		return
	}

	if errResp := h.svc.EndExecution(h.requestContext(c), req); errResp != nil {
		c.JSON(errResp.StatusCode, errResp.Error)
		return
	}
	successRespond(c)
}

func (h *ginHandler) requestContext(c *gin.Context) context.Context {
	ctx := c.Request.Context()
	if subject := c.GetHeader(HeaderSubject); subject != "" {
		ctx = authorization.WithSubject(ctx, subject)
	}
	return ctx
}

func (h *ginHandler) toJson(req any) string {
	str, err := json.Marshal(req)
	if err != nil {
		h.logger.Error("error when serializing request", tag.Error(err), tag.Value(req))
		return ""
	}
	return string(str)
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
