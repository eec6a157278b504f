// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/xcherryio/flowengine/cmd/server/bootstrap"

	_ "github.com/xcherryio/flowengine/extensions/memory"   // import memory extension
	_ "github.com/xcherryio/flowengine/extensions/postgres" // import postgres extension
	_ "github.com/xcherryio/flowengine/extensions/sqlite"   // import sqlite extension
)

func main() {
	app := &cli.App{
		Name:  "flowengine server",
		Usage: "start the flowengine server",
		Action: func(c *cli.Context) error {
			bootstrap.StartFlowEngineServerCli(c)
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  bootstrap.FlagConfig,
				Value: "./config/development-postgres.yaml",
				Usage: "the config to start flowengine server",
			},
			&cli.StringFlag{
				Name:  bootstrap.FlagService,
				Value: fmt.Sprintf("%v,%v", bootstrap.ApiServiceName, bootstrap.AsyncServiceName),
				Usage: "the services to start, separated by comma",
			},
			&cli.StringSliceFlag{
				Name:  bootstrap.FlagDefinitions,
				Usage: "process definition files to deploy at startup",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
