package config

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	Port        int    `mapstructure:"port" validate:"required"`
	Environment string `mapstructure:"environment"`

	// InMemory switches every table to the in-process implementation.
	// Intended for local development only.
	InMemory bool `mapstructure:"in_memory"`

	AWSConfig          aws.Config `mapstructure:"-"`
	ObjectsTableName   string     `mapstructure:"objects_table_name" validate:"required_if=InMemory false"`
	AccountsTableName  string     `mapstructure:"accounts_table_name" validate:"required_if=InMemory false"`
	DAOStateTableName  string     `mapstructure:"dao_state_table_name" validate:"required_if=InMemory false"`
	MaxObjectSize      int        `mapstructure:"max_object_size" validate:"required,gt=0"`
	MarketEndpoint     string     `mapstructure:"market_endpoint" validate:"required,url"`
	DefaultProviderDID string     `mapstructure:"default_provider_did" validate:"required"`
	AdminDID           string     `mapstructure:"admin_did"`
	MetricsAuthToken   string     `mapstructure:"metrics_auth_token"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if !cfg.InMemory {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		cfg.AWSConfig = awsCfg
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	return validator.New().Struct(c)
}
