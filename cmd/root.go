// Copyright © 2016 Sidharth Kshatriya
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liveprobe/agent/internal/config"
	"github.com/liveprobe/agent/internal/logging"
)

var cfgFile string

var v = viper.New()

// RootCmd is the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "liveprobe",
	Short: "liveprobe is an in-process live debugging agent",
}

// Execute adds all child commands to RootCmd and runs it. Called once
// from main.main().
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().BoolP("verbose", "v", false, "print more messages about what the agent is doing")
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.liveprobe.yaml)")
	RootCmd.PersistentFlags().String("working-directory", ".", "root directory the file scanner walks")
	RootCmd.PersistentFlags().String("app-path-relative-to-repository", "", "prefix to strip from server-supplied breakpoint paths before scanner lookup")
	RootCmd.PersistentFlags().String("project", "", "Controller project id")
	RootCmd.PersistentFlags().String("uniquifier", "", "Debuggee uniquifier; generated if empty")
	RootCmd.PersistentFlags().String("description", "", "Debuggee description")
	RootCmd.PersistentFlags().String("agent-version", "", "Debuggee agentVersion")
	RootCmd.PersistentFlags().String("controller-url", "https://clouddebugger.googleapis.com/v2/controller", "Controller base URL")
	RootCmd.PersistentFlags().String("low-level-backend", "gdbmi", "low-level debugger backend: gdbmi or inspector")
	RootCmd.PersistentFlags().String("gdb-executable", "gdb", "gdb executable for the gdbmi backend")
	RootCmd.PersistentFlags().String("gdb-target", "", "debuggee binary for the gdbmi backend")
	RootCmd.PersistentFlags().String("gdb-remote-addr", "localhost:1234", "extended-remote address for the gdbmi backend")
	RootCmd.PersistentFlags().String("inspector-url", "", "DevTools websocket URL for the inspector backend")

	v.BindPFlag("verbose", RootCmd.PersistentFlags().Lookup("verbose"))
	v.BindPFlag("working-directory", RootCmd.PersistentFlags().Lookup("working-directory"))
	v.BindPFlag("app-path-relative-to-repository", RootCmd.PersistentFlags().Lookup("app-path-relative-to-repository"))
	v.BindPFlag("project", RootCmd.PersistentFlags().Lookup("project"))
	v.BindPFlag("uniquifier", RootCmd.PersistentFlags().Lookup("uniquifier"))
	v.BindPFlag("description", RootCmd.PersistentFlags().Lookup("description"))
	v.BindPFlag("agent-version", RootCmd.PersistentFlags().Lookup("agent-version"))
	v.BindPFlag("controller-url", RootCmd.PersistentFlags().Lookup("controller-url"))
	v.BindPFlag("low-level-backend", RootCmd.PersistentFlags().Lookup("low-level-backend"))
	v.BindPFlag("gdb-executable", RootCmd.PersistentFlags().Lookup("gdb-executable"))
	v.BindPFlag("gdb-target", RootCmd.PersistentFlags().Lookup("gdb-target"))
	v.BindPFlag("gdb-remote-addr", RootCmd.PersistentFlags().Lookup("gdb-remote-addr"))
	v.BindPFlag("inspector-url", RootCmd.PersistentFlags().Lookup("inspector-url"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}

	v.SetConfigName(".liveprobe")
	v.AddConfigPath("$HOME")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	config.BindDefaults(v)

	if err := v.ReadInConfig(); err == nil {
		color.Yellow("liveprobe: using config file: %v", v.ConfigFileUsed())
	}

	logging.Verbose = v.GetBool("verbose")
}
