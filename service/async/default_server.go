// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package async

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"go.uber.org/multierr"
)

const (
	PathNotifyJobs            = "/internal/api/v1/flowengine/notify-jobs"
	PathRecalculateJobDueDate = "/internal/api/v1/flowengine/jobs/:id/recalculate-duedate"
	PathUnlockJob             = "/internal/api/v1/flowengine/jobs/:id/unlock"
	PathSetJobRetries         = "/internal/api/v1/flowengine/jobs/:id/retries"
	PathSuspendJob            = "/internal/api/v1/flowengine/jobs/:id/suspend"
	PathActivateJob           = "/internal/api/v1/flowengine/jobs/:id/activate"
	PathAcquireBatch          = "/internal/api/v1/flowengine/acquire-batch"

	// QueryForwarded marks a hint routed by a peer
	QueryForwarded = "forwarded"
)

type defaultSever struct {
	rootCtx context.Context
	cfg     config.Config
	logger  log.Logger

	engine     *gin.Engine
	httpServer *http.Server
	svc        Service
}

func NewDefaultAsyncServerWithGin(
	rootCtx context.Context, cfg config.Config, svc Service, management JobManagement, logger log.Logger,
) Server {
	engine := NewAsyncServiceGinController(cfg, svc, management, logger)

	svrCfg := cfg.AsyncService.InternalHttpServer
	httpServer := &http.Server{
		Addr:              svrCfg.Address,
		ReadTimeout:       svrCfg.ReadTimeout,
		WriteTimeout:      svrCfg.WriteTimeout,
		ReadHeaderTimeout: svrCfg.ReadHeaderTimeout,
		IdleTimeout:       svrCfg.IdleTimeout,
		MaxHeaderBytes:    svrCfg.MaxHeaderBytes,
		TLSConfig:         svrCfg.TLSConfig,
		Handler:           engine,
		BaseContext: func(listener net.Listener) context.Context {
			// for graceful shutdown
			return rootCtx
		},
	}

	return &defaultSever{
		rootCtx:    rootCtx,
		cfg:        cfg,
		logger:     logger,
		engine:     engine,
		httpServer: httpServer,
		svc:        svc,
	}
}

func NewAsyncServiceGinController(
	cfg config.Config, svc Service, management JobManagement, logger log.Logger,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())

	handler := newGinHandler(cfg, svc, management, logger)

	engine.POST(PathNotifyJobs, handler.NotifyJobs)
	engine.POST(PathRecalculateJobDueDate, handler.RecalculateJobDueDate)
	engine.POST(PathUnlockJob, handler.UnlockJob)
	engine.POST(PathSetJobRetries, handler.SetJobRetries)
	engine.POST(PathSuspendJob, handler.SuspendJob)
	engine.POST(PathActivateJob, handler.ActivateJob)
	engine.POST(PathAcquireBatch, handler.AcquireBatch)
	return engine
}

func (s defaultSever) Start() error {
	go func() {
		err := s.httpServer.ListenAndServe()
		s.logger.Info("Internal Http Server for Async service is closed", tag.Error(err))
	}()

	return s.svc.Start()
}

func (s defaultSever) Stop(ctx context.Context) error {
	err1 := s.httpServer.Shutdown(ctx)
	err2 := s.svc.Stop(ctx)
	return multierr.Combine(err1, err2)
}
