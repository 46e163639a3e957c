// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
	pingOutput  int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure round trips with routing queries",
	Long: `Send GET OUTn VS routing queries and wait for the matching video route
report.

This is useful for verifying:
  - The TCP or WebSocket connection is established
  - HTTP Basic authentication works (WebSocket bridges)
  - The switcher is processing commands
  - Bidirectional traffic works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
	pingCmd.Flags().IntVar(&pingOutput, "output", 1, "Output to query (1-based)")
}

func runPing(cmd *cobra.Command, args []string) error {
	s, _ := openCLISession(cmd, nil)
	defer s.Close()

	fmt.Printf("Matrixctl - Ping\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	replies := make(chan matrix.Response, 8)
	s.Client.OnResponse(func(r matrix.Response) {
		if r.Kind != matrix.KindVideoRoute || r.Err != nil {
			return
		}
		select {
		case replies <- r:
		default:
		}
	})

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		// Drop replies to the previous query that arrived late
		for len(replies) > 0 {
			<-replies
		}

		startTime := time.Now()
		if err := s.Client.GetOutputRoutingStatus(pingOutput); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case r := <-replies:
			rtt := time.Since(startTime)
			fmt.Printf("reply %q, rtt=%v\n", r.Line, rtt.Round(time.Millisecond))
			successCount++

		case <-time.After(time.Duration(pingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
