///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

// Package cmd initializes the CLI and config parsers as well as the logger.
package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/spf13/viper"
)

var cfgFile string
var logPath string
var verbose bool

// exitCode is set by the sub-commands and returned by the process
var exitCode int

// rootCmd represents the base command when called without any sub-commands
var rootCmd = &cobra.Command{
	Use:   "ckptbench",
	Short: "Benchmarks synchronized checkpoint writes of a rank cluster",
	Long: `ckptbench simulates the checkpoint phase of distributed model
training. A server hosts a cluster of ranks which write their shard of a
model checkpoint in lock step, a client requests steps and records how long
every rank took.`,
	Args: cobra.NoArgs,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.  This is called by main.main(). It only needs to
// happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		jww.ERROR.Printf("Exiting with error: %s", err.Error())
		os.Exit(1)
	}
	if exitCode != 0 {
		jww.ERROR.Printf("Exiting with code %d", exitCode)
	}
	os.Exit(exitCode)
}

// init is the initialization function for Cobra which defines commands
// and flags.
func init() {
	cobra.OnInitialize(initConfig, initLog)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default is $HOME/.ckptbench/ckptbench.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Verbose mode for debugging")
	rootCmd.PersistentFlags().StringVarP(&logPath, "log", "l", "",
		"Path of the log file, logs go to stdout only if not set")

	err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup(
		"verbose"))
	handleBindingError(err, "verbose")

	err = viper.BindPFlag("log", rootCmd.PersistentFlags().Lookup("log"))
	handleBindingError(err, "log")
}

func handleBindingError(err error, flag string) {
	if err != nil {
		jww.FATAL.Panicf("Error on binding flag \"%s\":%+v", flag, err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	viper.SetEnvPrefix("ckptbench")
	viper.AutomaticEnv() // read in environment variables that match

	explicit := cfgFile != ""
	//Use default config location if none is passed
	if !explicit {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			jww.ERROR.Println(err)
			os.Exit(1)
		}

		cfgFile = home + "/.ckptbench/ckptbench.yaml"
	}

	if _, err := os.Stat(cfgFile); err != nil {
		if explicit {
			jww.FATAL.Panicf("Invalid config file (%s): %s", cfgFile,
				err.Error())
		}
		jww.DEBUG.Printf("No config file at %s, using flags only", cfgFile)
		return
	}

	viper.SetConfigFile(cfgFile)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		jww.FATAL.Panicf("Unable to read config file (%s): %s", cfgFile,
			err.Error())
	}
}

// initLog initializes logging thresholds and the log path.
func initLog() {
	// If verbose flag set then log more info for debugging
	if viper.GetBool("verbose") {
		jww.SetLogThreshold(jww.LevelDebug)
		jww.SetStdoutThreshold(jww.LevelDebug)
	} else {
		jww.SetLogThreshold(jww.LevelInfo)
		jww.SetStdoutThreshold(jww.LevelInfo)
	}

	if path := viper.GetString("log"); path != "" {
		// Create log file, overwrites if existing
		logFile, err := os.Create(path)
		if err != nil {
			fmt.Printf("Invalid or missing log path %s, "+
				"stdout used.\n", path)
		} else {
			jww.SetLogOutput(logFile)
		}
	}
}

// bindFlags binds the flags of cmd to their viper keys. It runs before a
// sub-command so commands sharing a key do not override each other.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		err := viper.BindPFlag(key, cmd.Flags().Lookup(flag))
		handleBindingError(err, flag)
	}
}
