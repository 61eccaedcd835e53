package main

import (
	"errors"
	"os"

	"github.com/MarcoPoloResearchLab/koi/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "koi-api",
		Short:        "Koi progression service and client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newServeCommand(), newWatchCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file loaded before configuration")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	lookup := cmd.Flags().Lookup(flag)
	if lookup == nil {
		lookup = cmd.PersistentFlags().Lookup(flag)
	}
	if err := viper.BindPFlag(key, lookup); err != nil {
		panic(err)
	}
}

func initConfig() error {
	config.LoadDotEnv(envFile)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
