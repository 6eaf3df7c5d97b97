package main

import (
	logging "github.com/ipfs/go-log/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logging.Logger("datadao")

const shortDescription = `
DataDAO - content-addressed storage with deal settlement accounting
`

const longDescription = `
DataDAO stores content-addressed objects, records the storage deals
negotiated for them and pays out rewards to the providers that fulfil them.
`

var (
	cfgFile string

	logLevel string

	rootCmd = &cobra.Command{
		Use:   "datadao",
		Short: shortDescription,
		Long:  longDescription,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level")

	// register all commands and their subcommands
	rootCmd.AddCommand(startCmd)
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("DATADAO")

	if logLevel != "" {
		ll, err := logging.LevelFromString(logLevel)
		cobra.CheckErr(err)
		logging.SetAllLoggers(ll)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		cobra.CheckErr(viper.ReadInConfig())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
