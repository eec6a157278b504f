// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package integTests

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/xcherryio/flowengine/cmd/server/bootstrap"
	"github.com/xcherryio/flowengine/config"
	"github.com/xcherryio/flowengine/engine/command"
	"github.com/xcherryio/flowengine/engine/tree"
	"github.com/xcherryio/flowengine/extensions"
	"github.com/xcherryio/flowengine/extensions/memory"
	"github.com/xcherryio/flowengine/extensions/postgres"
	"github.com/xcherryio/flowengine/extensions/postgres/postgrestool"
	"github.com/xcherryio/flowengine/persistence"
)

const localApiAddress = "http://localhost:8800"

var apiAddress = "http://127.0.0.1:18800"

// shipped receives the process instance id of every shipment made by the server started by the test
var shipped = make(chan string, 100)

func TestMain(m *testing.M) {
	flag.Parse()
	testDBName := fmt.Sprintf("test%v", time.Now().UnixNano())
	fmt.Printf("start running integ test, "+
		"testDBName: %v, useLocalServer:%v, createServerWithPostgres: %v \n",
		testDBName, *useLocalServer, *createServerWithPostgres)

	var shutdownFunc bootstrap.GracefulShutdown
	dropDatabase := func() {}
	rootCtx, rootCtxCancelFunc := context.WithCancel(context.Background())

	if *useLocalServer {
		apiAddress = localApiAddress
	} else {
		sqlConfig := &config.SQL{
			DBExtensionName: memory.ExtensionName,
			DatabaseName:    testDBName,
		}
		if *createServerWithPostgres {
			sqlConfig = &config.SQL{
				ConnectAddr:     fmt.Sprintf("%v:%v", postgrestool.DefaultEndpoint, postgrestool.DefaultPort),
				User:            postgrestool.DefaultUserName,
				Password:        postgrestool.DefaultPassword,
				DBExtensionName: postgres.ExtensionName,
				DatabaseName:    testDBName,
			}
			err := extensions.CreateDatabase(*sqlConfig, testDBName)
			if err != nil {
				panic(err)
			}
			dropDatabase = func() {
				err := extensions.DropDatabase(*sqlConfig, testDBName)
				if err != nil {
					fmt.Println("failed to drop database ", testDBName, err)
				} else {
					fmt.Println("testing database is deleted")
				}
			}
			err = extensions.SetupSchema(sqlConfig, "../"+postgrestool.DefaultSchemaFilePath)
			if err != nil {
				panic(err)
			}
		}

		cfg := config.Config{
			Log: config.Logger{
				Level: "info",
			},
			Database: config.DatabaseConfig{
				SQL: sqlConfig,
			},
			JobExecutor: config.JobExecutorConfig{
				LockOwner:   "integ-node",
				WaitTimeMin: 50 * time.Millisecond,
				WaitTimeMax: 500 * time.Millisecond,
				// the failing delegate is retried once, immediately
				DefaultRetries: 2,
			},
			ApiService: config.ApiServiceConfig{
				HttpServer: config.HttpServerConfig{
					Address:      "127.0.0.1:18800",
					ReadTimeout:  5 * time.Second,
					WriteTimeout: 60 * time.Second,
				},
			},
			AsyncService: config.AsyncServiceConfig{
				Mode: config.AsyncServiceModeStandalone,
				InternalHttpServer: config.HttpServerConfig{
					Address: "127.0.0.1:18801",
				},
			},
		}

		delegates := tree.NewDelegates()
		delegates.Register("ship", func(_ *command.Context, execution *persistence.Execution, variables map[string]any) error {
			variables["shipped"] = true
			shipped <- execution.ProcessInstanceId
			return nil
		})
		var attemptsLock sync.Mutex
		attempts := map[string]int{}
		delegates.Register("flaky", func(_ *command.Context, execution *persistence.Execution, variables map[string]any) error {
			attemptsLock.Lock()
			defer attemptsLock.Unlock()
			attempts[execution.ProcessInstanceId]++
			if attempts[execution.ProcessInstanceId] == 1 {
				return fmt.Errorf("carrier unavailable")
			}
			variables["attempts"] = attempts[execution.ProcessInstanceId]
			return nil
		})

		var err error
		shutdownFunc, err = bootstrap.StartFlowEngineServer(rootCtx, &cfg, nil, bootstrap.Options{
			Delegates: delegates,
		})
		if err != nil {
			panic(err)
		}
	}

	// looks like this wait can fix some flaky failure
	// where API call is made before Gin server is ready
	time.Sleep(time.Millisecond * 100)

	resultCode := m.Run()
	fmt.Println("finished running integ test with status code", resultCode)
	rootCtxCancelFunc()
	if shutdownFunc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = shutdownFunc(ctx)
		cancel()
	}
	dropDatabase()
	os.Exit(resultCode)
}
