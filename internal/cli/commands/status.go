// Copyright 2024 ShortFUSE Authors
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

package commands

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/redballoonsecurity/shortfuse/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show serve session status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running serve session",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}

// servePID returns the pid of a live serve session, or 0.
func servePID() int {
	pid, err := daemon.GetPID()
	if err != nil {
		return 0
	}
	// Signal 0 probes for existence without delivering anything.
	if err := syscall.Kill(pid, 0); err != nil {
		return 0
	}
	return pid
}

func runStatus(cmd *cobra.Command, args []string) error {
	if pid := servePID(); pid != 0 {
		fmt.Printf("serve is running (PID %d)\n", pid)
		return nil
	}
	fmt.Println("serve is not running")
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	pid := servePID()
	if pid == 0 {
		fmt.Println("serve is not running")
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop serve (PID %d): %w", pid, err)
	}
	// Wait briefly for the pid file to disappear.
	for i := 0; i < 50; i++ {
		if servePID() == 0 {
			fmt.Println("serve stopped")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintf(os.Stderr, "Warning: serve (PID %d) did not exit yet\n", pid)
	return nil
}
