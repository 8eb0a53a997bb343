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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"zkwire.dev/zkwire/go/zk"
)

// Watch arms watches on the given paths and prints events until
// interrupted.
var Watch = &cobra.Command{
	Use:   "watch <path> [<path> ...]",
	Short: "Print watch events for the given znodes until interrupted.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  commandWatch,
}

func commandWatch(cmd *cobra.Command, args []string) error {
	eventChans := make([]<-chan zk.Event, 0, len(args))
	for _, path := range args {
		_, _, ech, err := conn.ExistsW(path)
		if err != nil {
			return fmt.Errorf("watch: cannot access %v: %v", path, err)
		}
		eventChans = append(eventChans, ech)
	}

	merged := make(chan zk.Event)
	for _, ech := range eventChans {
		go func(ech <-chan zk.Event) {
			for ev := range ech {
				merged <- ev
			}
		}(ech)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-sigChan:
			return nil
		case ev := <-merged:
			fmt.Printf("%v %v\n", ev.Type, ev.Path)
			// One-shot watches must be re-armed to keep observing.
			if ev.Type != zk.EventSession {
				_, _, ech, err := conn.ExistsW(ev.Path)
				if err != nil {
					return fmt.Errorf("watch: cannot re-arm %v: %v", ev.Path, err)
				}
				go func(ech <-chan zk.Event) {
					for ev := range ech {
						merged <- ev
					}
				}(ech)
			}
		case ev := <-events:
			if ev.Type == zk.EventSession {
				fmt.Printf("session: %v\n", ev.State)
			}
		}
	}
}
