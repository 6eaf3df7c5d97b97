package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/storacha/go-ucanto/did"

	"github.com/storacha/datadao/internal/config"
	"github.com/storacha/datadao/internal/dao"
	"github.com/storacha/datadao/internal/db/accounts"
	"github.com/storacha/datadao/internal/db/daostate"
	"github.com/storacha/datadao/internal/db/objects"
	"github.com/storacha/datadao/internal/market"
	"github.com/storacha/datadao/internal/server"
	"github.com/storacha/datadao/internal/service"
	"github.com/storacha/datadao/internal/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start DataDAO",
	Args:  cobra.NoArgs,
	RunE:  startService,
}

func init() {
	startCmd.Flags().Int(
		"port",
		8080,
		"Port to listen on",
	)
	cobra.CheckErr(viper.BindPFlag("port", startCmd.Flags().Lookup("port")))

	startCmd.Flags().String(
		"environment",
		"dev",
		"Deployment environment tag used in metrics",
	)
	cobra.CheckErr(viper.BindPFlag("environment", startCmd.Flags().Lookup("environment")))

	startCmd.Flags().Bool(
		"in-memory",
		false,
		"Use in-process tables instead of DynamoDB (development only)",
	)
	cobra.CheckErr(viper.BindPFlag("in_memory", startCmd.Flags().Lookup("in-memory")))

	startCmd.Flags().String(
		"objects-table-name",
		"",
		"Name of the DynamoDB table holding object payloads",
	)
	cobra.CheckErr(viper.BindPFlag("objects_table_name", startCmd.Flags().Lookup("objects-table-name")))
	cobra.CheckErr(viper.BindEnv("objects_table_name", "OBJECTS_TABLE_ID"))

	startCmd.Flags().String(
		"accounts-table-name",
		"",
		"Name of the DynamoDB table holding per-object accounts",
	)
	cobra.CheckErr(viper.BindPFlag("accounts_table_name", startCmd.Flags().Lookup("accounts-table-name")))
	cobra.CheckErr(viper.BindEnv("accounts_table_name", "ACCOUNTS_TABLE_ID"))

	startCmd.Flags().String(
		"dao-state-table-name",
		"",
		"Name of the DynamoDB table holding the DAO state",
	)
	cobra.CheckErr(viper.BindPFlag("dao_state_table_name", startCmd.Flags().Lookup("dao-state-table-name")))
	cobra.CheckErr(viper.BindEnv("dao_state_table_name", "DAO_STATE_TABLE_ID"))

	startCmd.Flags().Int(
		"max-object-size",
		1<<20,
		"Maximum accepted payload size in bytes",
	)
	cobra.CheckErr(viper.BindPFlag("max_object_size", startCmd.Flags().Lookup("max-object-size")))

	startCmd.Flags().String(
		"market-endpoint",
		"",
		"Base URL of the market service handling deals and transfers",
	)
	cobra.CheckErr(viper.BindPFlag("market_endpoint", startCmd.Flags().Lookup("market-endpoint")))

	startCmd.Flags().String(
		"default-provider-did",
		"",
		"Provider DID used when the market response names none",
	)
	cobra.CheckErr(viper.BindPFlag("default_provider_did", startCmd.Flags().Lookup("default-provider-did")))

	startCmd.Flags().String(
		"admin-did",
		"",
		"DAO admin DID; when set, the DAO is initialized on startup",
	)
	cobra.CheckErr(viper.BindPFlag("admin_did", startCmd.Flags().Lookup("admin-did")))

	cobra.CheckErr(viper.BindEnv("metrics_auth_token"))
}

func startService(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var (
		objectTable  objects.ObjectTable
		accountTable accounts.AccountTable
		stateTable   daostate.StateTable
	)

	if cfg.InMemory {
		log.Warn("Running with in-memory tables, state is lost on exit")
		objectTable = objects.NewMemoryObjectTable()
		accountTable = accounts.NewMemoryAccountTable()
		stateTable = daostate.NewMemoryStateTable()
	} else {
		dynamoClient := dynamodb.NewFromConfig(cfg.AWSConfig)
		objectTable = objects.NewDynamoObjectTable(dynamoClient, cfg.ObjectsTableName)
		accountTable = accounts.NewDynamoAccountTable(dynamoClient, cfg.AccountsTableName)
		stateTable = daostate.NewDynamoStateTable(dynamoClient, cfg.DAOStateTableName)
	}

	marketEndpoint, err := url.Parse(cfg.MarketEndpoint)
	if err != nil {
		return fmt.Errorf("parsing market endpoint: %w", err)
	}

	defaultProvider, err := did.Parse(cfg.DefaultProviderDID)
	if err != nil {
		return fmt.Errorf("parsing default provider DID: %w", err)
	}

	gateway := market.NewHTTPGateway(marketEndpoint, defaultProvider)

	objectStore := store.New(objectTable, accountTable, cfg.MaxObjectSize)
	d := dao.New(stateTable, accountTable, gateway)

	svc, err := service.New(cfg.Environment, objectStore, d)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	if cfg.AdminDID != "" {
		admin, err := did.Parse(cfg.AdminDID)
		if err != nil {
			return fmt.Errorf("parsing admin DID: %w", err)
		}

		var alreadyInit dao.AlreadyInitializedError
		if err := svc.InitDAO(ctx, admin); err != nil && !errors.As(err, &alreadyInit) {
			return fmt.Errorf("initializing DAO: %w", err)
		}
	}

	srv, err := server.New(svc, server.WithMetricsEndpoint(cfg.MetricsAuthToken))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting server on port %d", cfg.Port)
		errCh <- srv.ListenAndServe(fmt.Sprintf(":%d", cfg.Port))
	}()

	select {
	case err := <-errCh:
		log.Errorf("Server error: %v", err)
		return err
	case sig := <-sigCh:
		log.Infof("Received signal %v, shutting down gracefully", sig)
		cancel()
		return nil
	}
}
