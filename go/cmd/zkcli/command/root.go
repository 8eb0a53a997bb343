/*
Copyright 2024 The ZKWire Authors.

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

package command

import (
	"fmt"

	"github.com/spf13/cobra"

	"zkwire.dev/zkwire/go/log"
	"zkwire.dev/zkwire/go/zk"
)

var (
	server string
	config zk.Config

	conn   *zk.Conn
	events <-chan zk.Event

	// Root is the main command of zkcli.
	Root = &cobra.Command{
		Use:   "zkcli",
		Short: "zkcli is a command-line client for ZooKeeper.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				return fmt.Errorf("--server is required")
			}
			var err error
			conn, events, err = zk.Connect(server, config)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if conn != nil {
				conn.Close()
			}
			log.Flush()
		},
	}
)

func init() {
	Root.PersistentFlags().StringVar(&server, "server", "", "comma-separated servers with optional /chroot, e.g. h1:2181,h2:2181/app")
	config.RegisterFlags(Root.PersistentFlags())
	log.RegisterFlags(Root.PersistentFlags())

	Root.AddCommand(Get)
	Root.AddCommand(Ls)
	Root.AddCommand(StatCmd)
	Root.AddCommand(Create)
	Root.AddCommand(Set)
	Root.AddCommand(Rm)
	Root.AddCommand(Watch)
	Root.AddCommand(Sync)
}
