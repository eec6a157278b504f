// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package extensions

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/urfave/cli/v2"
	"github.com/xcherryio/flowengine/config"
)

// SetupSchemaByCli setup schema for a new database
func SetupSchemaByCli(cli *cli.Context, extensionName string) error {
	cfg, err := parseConnectConfig(cli, extensionName)
	if err != nil {
		return err
	}
	filePath := cli.String(CLIFlagFile)
	return SetupSchema(cfg, filePath)
}

func SetupSchema(cfg *config.SQL, filePath string) error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("error reading contents of file %v:%v", filePath, err.Error())
	}

	return SetupSchemaFromDDL(cfg, string(content))
}

func SetupSchemaFromDDL(cfg *config.SQL, ddl string) error {
	adminSession, err := NewSQLAdminSession(cfg)
	if err != nil {
		return err
	}
	defer adminSession.Close()

	return adminSession.ExecuteSchemaDDL(context.Background(), ddl)
}

// CreateDatabaseByCli creates a sql database
func CreateDatabaseByCli(cli *cli.Context, extensionName string) error {
	cfg, err := parseConnectConfig(cli, extensionName)
	if err != nil {
		return err
	}
	database := cli.String(CLIFlagDatabase)
	return CreateDatabase(*cfg, database)
}

func CreateDatabase(cfg config.SQL, name string) error {
	// the database does not exist yet, so connect without one.
	// It's up to the extension to pick the admin database, e.g. postgres uses "postgres"
	cfg.DatabaseName = ""

	adminSession, err := NewSQLAdminSession(&cfg)
	if err != nil {
		return err
	}
	defer adminSession.Close()
	return adminSession.CreateDatabase(context.Background(), name)
}

// DropDatabaseByCli drops a sql database
func DropDatabaseByCli(cli *cli.Context, extensionName string) error {
	cfg, err := parseConnectConfig(cli, extensionName)
	if err != nil {
		return err
	}
	return DropDatabase(*cfg, cli.String(CLIFlagDatabase))
}

func DropDatabase(cfg config.SQL, name string) error {
	cfg.DatabaseName = "" // in postgres, a database cannot be dropped while connected to it
	adminSession, err := NewSQLAdminSession(&cfg)
	if err != nil {
		return err
	}
	defer adminSession.Close()
	return adminSession.DropDatabase(context.Background(), name)
}

func parseConnectConfig(cli *cli.Context, extensionName string) (*config.SQL, error) {
	cfg := new(config.SQL)

	host := cli.String(CLIFlagEndpoint)
	port := cli.Int(CLIFlagPort)
	cfg.ConnectAddr = fmt.Sprintf("%s:%v", host, port)
	cfg.User = cli.String(CLIFlagUser)
	cfg.Password = cli.String(CLIFlagPassword)
	cfg.DatabaseName = cli.String(CLIFlagDatabase)
	cfg.DBExtensionName = extensionName
	if sslMode := cli.String(CLIFlagSSLMode); sslMode != "" {
		cfg.ConnectAttributes = map[string]string{"sslmode": sslMode}
	}

	if err := ValidateConnectConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateConnectConfig validates params
func ValidateConnectConfig(cfg *config.SQL) error {
	host, _, err := net.SplitHostPort(cfg.ConnectAddr)
	if err != nil {
		return fmt.Errorf("invalid host and port " + cfg.ConnectAddr)
	}
	if len(host) == 0 {
		return fmt.Errorf("missing sql endpoint argument " + flag(CLIFlagEndpoint))
	}
	if cfg.DatabaseName == "" {
		return fmt.Errorf("missing " + flag(CLIFlagDatabase) + " argument")
	}
	return nil
}

func flag(opt string) string {
	return "(-" + opt + ")"
}
