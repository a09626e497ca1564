/*
Copyright 2025 Weave Data Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/weavedata/weave"
	"github.com/weavedata/weave/config"
	"github.com/weavedata/weave/database"
	"github.com/weavedata/weave/internal/notification"
)

// Weave represents the CLI application, encapsulating the root Cobra command.
type Weave struct {
	cmd *cobra.Command
}

// weaveInstance holds the engine instance and its configuration, shared by
// all subcommands.
type weaveInstance struct {
	weave *weave.Weave
	cnf   *config.Configuration
}

// recoverPanic logs any panic during command execution and exits non-zero.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the engine before any
// subcommand runs.
func preRun(app *weaveInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("weave.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newWeave, err := setupWeave(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.weave = newWeave
		app.cnf = cnf

		return nil
	}
}

// setupWeave connects the data source and builds the engine from it.
func setupWeave(cfg *config.Configuration) (*weave.Weave, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newWeave, err := weave.NewWeave(db)
	if err != nil {
		return nil, fmt.Errorf("error creating weave: %v", err)
	}
	return newWeave, nil
}

// NewCLI assembles the command-line interface for the connector.
func NewCLI() *Weave {
	var configFile string
	w := &weaveInstance{}

	var rootCmd = &cobra.Command{
		Use:   "weave",
		Short: "Dataspace connector negotiation engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./weave.json", "Configuration file for the connector")

	rootCmd.PersistentPreRunE = preRun(w)

	rootCmd.AddCommand(workerCommands(w))
	rootCmd.AddCommand(migrateCommands(w))

	return &Weave{cmd: rootCmd}
}

// executeCLI runs the root command.
func (w *Weave) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
