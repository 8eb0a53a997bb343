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
	"os"

	"github.com/spf13/cobra"
)

var (
	// Get prints the data of one znode.
	Get = &cobra.Command{
		Use:   "get <path>",
		Short: "Print the data of a znode.",
		Args:  cobra.ExactArgs(1),
		RunE:  commandGet,
	}

	// Ls lists the children of one znode.
	Ls = &cobra.Command{
		Use:   "ls <path>",
		Short: "List the children of a znode.",
		Args:  cobra.ExactArgs(1),
		RunE:  commandLs,
	}

	// StatCmd prints the metadata of one znode.
	StatCmd = &cobra.Command{
		Use:   "stat <path>",
		Short: "Print the metadata of a znode.",
		Args:  cobra.ExactArgs(1),
		RunE:  commandStat,
	}

	// Sync flushes the leader channel for one znode.
	Sync = &cobra.Command{
		Use:   "sync <path>",
		Short: "Flush the leader channel for a znode.",
		Args:  cobra.ExactArgs(1),
		RunE:  commandSync,
	}
)

func commandGet(cmd *cobra.Command, args []string) error {
	data, _, err := conn.Get(args[0])
	if err != nil {
		return fmt.Errorf("get: cannot access %v: %v", args[0], err)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func commandLs(cmd *cobra.Command, args []string) error {
	children, _, err := conn.Children(args[0])
	if err != nil {
		return fmt.Errorf("ls: cannot access %v: %v", args[0], err)
	}
	for _, child := range children {
		fmt.Println(child)
	}
	return nil
}

func commandStat(cmd *cobra.Command, args []string) error {
	ok, stat, err := conn.Exists(args[0])
	if err != nil {
		return fmt.Errorf("stat: cannot access %v: %v", args[0], err)
	}
	if !ok {
		return fmt.Errorf("stat: no such node %v", args[0])
	}
	fmt.Printf("czxid: 0x%x\nmzxid: 0x%x\nversion: %d\ncversion: %d\nnumChildren: %d\ndataLength: %d\nephemeralOwner: 0x%x\n",
		stat.Czxid, stat.Mzxid, stat.Version, stat.Cversion, stat.NumChildren, stat.DataLength, stat.EphemeralOwner)
	return nil
}

func commandSync(cmd *cobra.Command, args []string) error {
	path, err := conn.Sync(args[0])
	if err != nil {
		return fmt.Errorf("sync: %v: %v", args[0], err)
	}
	fmt.Println(path)
	return nil
}
