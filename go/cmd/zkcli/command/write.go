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

	"zkwire.dev/zkwire/go/zk"
)

var (
	createArgs = struct {
		Ephemeral bool
		Sequence  bool
	}{}

	setArgs = struct {
		Version int32
	}{}

	rmArgs = struct {
		Version int32
	}{}

	// Create makes a new znode.
	Create = &cobra.Command{
		Use:   "create <path> <data>",
		Short: "Create a znode with the given data.",
		Args:  cobra.ExactArgs(2),
		RunE:  commandCreate,
	}

	// Set replaces the data of a znode.
	Set = &cobra.Command{
		Use:   "set <path> <data>",
		Short: "Replace the data of a znode.",
		Args:  cobra.ExactArgs(2),
		RunE:  commandSet,
	}

	// Rm deletes a znode.
	Rm = &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a znode.",
		Args:  cobra.ExactArgs(1),
		RunE:  commandRm,
	}
)

func init() {
	Create.Flags().BoolVarP(&createArgs.Ephemeral, "ephemeral", "e", false, "create an ephemeral node")
	Create.Flags().BoolVarP(&createArgs.Sequence, "sequence", "s", false, "create a sequence node")
	Set.Flags().Int32Var(&setArgs.Version, "version", -1, "expected version, -1 for any")
	Rm.Flags().Int32Var(&rmArgs.Version, "version", -1, "expected version, -1 for any")
}

func commandCreate(cmd *cobra.Command, args []string) error {
	var flags int32
	if createArgs.Ephemeral {
		flags |= zk.FlagEphemeral
	}
	if createArgs.Sequence {
		flags |= zk.FlagSequence
	}
	path, err := conn.Create(args[0], []byte(args[1]), flags, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("create: %v: %v", args[0], err)
	}
	fmt.Println(path)
	return nil
}

func commandSet(cmd *cobra.Command, args []string) error {
	stat, err := conn.Set(args[0], []byte(args[1]), setArgs.Version)
	if err != nil {
		return fmt.Errorf("set: %v: %v", args[0], err)
	}
	fmt.Printf("version: %d\n", stat.Version)
	return nil
}

func commandRm(cmd *cobra.Command, args []string) error {
	if err := conn.Delete(args[0], rmArgs.Version); err != nil {
		return fmt.Errorf("rm: %v: %v", args[0], err)
	}
	return nil
}
