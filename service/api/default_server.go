// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/runtime"
)

const (
	PathDeploy           = "/api/v1/flowengine/deployments"
	PathStartProcess     = "/api/v1/flowengine/process-instance/start"
	PathDescribeProcess  = "/api/v1/flowengine/process-instance/describe"
	PathSignalExecution  = "/api/v1/flowengine/execution/signal"
	PathEndExecution     = "/api/v1/flowengine/execution/end"
	PathCorrelateMessage = "/api/v1/flowengine/message/correlate"
	PathBroadcastSignal  = "/api/v1/flowengine/signal/broadcast"
)

type defaultSever struct {
	rootCtx    context.Context
	cfg        config.Config
	logger     log.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

func NewDefaultAPIServerWithGin(
	rootCtx context.Context, cfg config.Config, runtimeService *runtime.Service, logger log.Logger,
) Server {
	engine := NewAPIServiceGinController(cfg, NewServiceImpl(cfg, runtimeService, logger), logger)

	svrCfg := cfg.ApiService.HttpServer
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
	}
}

func NewAPIServiceGinController(cfg config.Config, svc Service, logger log.Logger) *gin.Engine {
	engine := gin.Default()

	handler := newGinHandler(cfg, svc, logger)

	engine.POST(PathDeploy, handler.Deploy)
	engine.POST(PathStartProcess, handler.StartProcess)
	engine.POST(PathDescribeProcess, handler.DescribeProcess)
	engine.POST(PathSignalExecution, handler.Signal)
	engine.POST(PathEndExecution, handler.EndExecution)
	engine.POST(PathCorrelateMessage, handler.CorrelateMessage)
	engine.POST(PathBroadcastSignal, handler.BroadcastSignal)
	return engine
}

func (s defaultSever) Start() error {
	go func() {
		err := s.httpServer.ListenAndServe()
		s.logger.Info("Http Server for API service is closed", tag.Error(err))
	}()

	return nil
}

func (s defaultSever) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
