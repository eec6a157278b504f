// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"fmt"
	rawLog "log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/xcherryio/flowengine/common/clock"
	"github.com/xcherryio/flowengine/common/log"
	"github.com/xcherryio/flowengine/common/log/tag"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine"
	"github.com/xcherryio/flowengine/engine/authorization"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/definition"
	"github.com/xcherryio/flowengine/engine/history"
	"github.com/xcherryio/flowengine/engine/jobs"
	"github.com/xcherryio/flowengine/engine/runtime"
	"github.com/xcherryio/flowengine/engine/tree"
	"github.com/xcherryio/flowengine/persistence/store"
	"github.com/xcherryio/flowengine/service/api"
	"github.com/xcherryio/flowengine/service/async"
	"go.uber.org/multierr"
)

const ApiServiceName = "api"
const AsyncServiceName = "async"

const FlagConfig = "config"
const FlagService = "service"
const FlagDefinitions = "definitions"

// Options are the extension points of an embedding application
type Options struct {
	// Delegates run the service tasks of the deployed processes
	Delegates *tree.Delegates
	// Authorizer checks the commands issued through the API, nil allows all
	Authorizer authorization.Checker
	// DefinitionFiles are deployed in order at startup
	DefinitionFiles []string
}

func StartFlowEngineServerCli(c *cli.Context) {
	// register interrupt signal for graceful shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	configPath := c.String(FlagConfig)
	services := getServices(c)

	cfg, err := config.NewConfig(configPath)
	if err != nil {
		rawLog.Fatalf("Unable to load config for path %v because of error %v", configPath, err)
	}
	shutdownFunc, err := StartFlowEngineServer(rootCtx, cfg, services, Options{
		DefinitionFiles: c.StringSlice(FlagDefinitions),
	})
	if err != nil {
		rawLog.Fatalf("Unable to start the server: %v", err)
	}
	// wait for os signals
	<-rootCtx.Done()

	ctx, cancF := context.WithTimeout(context.Background(), time.Second*10)
	defer cancF()
	err = shutdownFunc(ctx)
	if err != nil {
		fmt.Println("shutdown error:", err)
	}
}

type GracefulShutdown func(ctx context.Context) error

func StartFlowEngineServer(
	rootCtx context.Context, cfg *config.Config, services map[string]bool, opts Options,
) (GracefulShutdown, error) {
	if len(services) == 0 {
		services = map[string]bool{ApiServiceName: true, AsyncServiceName: true}
	}

	zapLogger, err := cfg.Log.NewZapLogger()
	if err != nil {
		return nil, fmt.Errorf("unable to create a new zap logger: %w", err)
	}
	logger := log.NewLogger(zapLogger)
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, fmt.Errorf("config is invalid: %w", err)
	}
	logger.Info("config is loaded", tag.Value(cfg.String()))

	entityStore, err := store.NewSQLEntityStore(*cfg.Database.SQL, logger)
	if err != nil {
		return nil, fmt.Errorf("error on persistence setup: %w", err)
	}

	delegates := opts.Delegates
	if delegates == nil {
		delegates = tree.NewDelegates()
	}
	flow := tree.NewFlow(delegates)
	registry := jobs.NewRegistry()
	if err := flow.RegisterJobHandlers(registry); err != nil {
		return nil, multierr.Append(err, entityStore.Close())
	}
	if err := registry.Register(&jobs.HistoryCleanupHandler{BatchSize: cfg.JobExecutor.HistoryCleanupBatchSize}); err != nil {
		return nil, multierr.Append(err, entityStore.Close())
	}

	repo := definition.NewRepository(definition.NewCache(), logger)
	executor := command.NewExecutor(entityStore, logger, clock.NewRealTimeSource(), repo, opts.Authorizer,
		history.NewLoggingSink(logger.WithTags(tag.Service("history"))), cfg.JobExecutor)
	runtimeService := runtime.NewService(executor, repo, flow, registry, logger)

	for _, path := range opts.DefinitionFiles {
		deployed, err := runtimeService.DeployFile(rootCtx, path)
		if err != nil {
			return nil, multierr.Append(err, entityStore.Close())
		}
		logger.Info("process definitions are deployed", tag.Value(path), tag.Count(len(deployed)))
	}

	var apiServer api.Server
	var asyncServer async.Server
	shutdown := func(ctx context.Context) error {
		// graceful shutdown
		var errs error
		// first stop api server
		if apiServer != nil {
			errs = multierr.Append(errs, apiServer.Stop(ctx))
		}
		if asyncServer != nil {
			errs = multierr.Append(errs, asyncServer.Stop(ctx))
		}
		return multierr.Append(errs, entityStore.Close())
	}

	if services[AsyncServiceName] {
		asyncLogger := logger.WithTags(tag.Service(AsyncServiceName))
		if err := runtimeService.EnsureMaintenanceJobs(rootCtx, cfg.JobExecutor.HistoryCleanupCycle); err != nil {
			return nil, multierr.Append(err, shutdown(rootCtx))
		}
		membership, err := async.NewMembershipImpl(*cfg, asyncLogger)
		if err != nil {
			return nil, multierr.Append(err, shutdown(rootCtx))
		}
		jobExecutor := engine.NewJobExecutor(cfg.JobExecutor, executor, registry, asyncLogger)
		asyncService := async.NewAsyncServiceImpl(*cfg, jobExecutor, membership, asyncLogger)
		executor.AddJobCreatedHook(engine.NewJobCreatedNotifier(asyncService))

		asyncServer = async.NewDefaultAsyncServerWithGin(rootCtx, *cfg, asyncService, runtimeService, asyncLogger)
		if err := asyncServer.Start(); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to start async server: %w", err), shutdown(rootCtx))
		}
	}

	if services[ApiServiceName] && cfg.ApiService.HttpServer.Address != "" {
		apiServer = api.NewDefaultAPIServerWithGin(
			rootCtx, *cfg, runtimeService, logger.WithTags(tag.Service(ApiServiceName)))
		if err := apiServer.Start(); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to start api server: %w", err), shutdown(rootCtx))
		}
	}

	return shutdown, nil
}

func getServices(c *cli.Context) map[string]bool {
	val := strings.TrimSpace(c.String(FlagService))
	tokens := strings.Split(val, ",")

	services := map[string]bool{}
	for _, token := range tokens {
		t := strings.TrimSpace(token)
		if t != "" {
			services[t] = true
		}
	}

	return services
}
