// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/transport"
	"github.com/spf13/cobra"
)

var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Test connection stability and reconnection",
	Long: `Hold the connection open for a period without sending commands, logging
status changes and received bytes. The stream transport reconnects on its
own; every drop and reconnect is reported.

Exit codes:
  0 - No link drops during the test
  1 - The link dropped at least once
  2 - Connection error`,
	RunE: runSoak,
}

var soakDuration int

func init() {
	rootCmd.AddCommand(soakCmd)
	soakCmd.Flags().IntVar(&soakDuration, "duration", 30, "Test duration in seconds")
}

func runSoak(cmd *cobra.Command, args []string) error {
	s, _ := openCLISession(cmd, nil)
	defer s.Close()

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Duration: %d seconds\n\n", soakDuration)

	statusChan := make(chan transport.Status, 16)
	s.Client.OnConnectionStatus(func(st transport.Status) {
		select {
		case statusChan <- st:
		default:
		}
	})

	endTime := time.Now().Add(time.Duration(soakDuration) * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	fmt.Printf("Listening...\n\n")

	for time.Now().Before(endTime) {
		select {
		case st := <-statusChan:
			fmt.Printf("[%s] Status: %s\n", time.Now().Format("15:04:05.000"), st)

		case <-ticker.C:
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] %s, %d bytes received (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), s.Client.ConnectionStatus(),
				bytesReceived(s), remaining)
		}
	}

	stats := s.Client.Statistics()
	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", soakDuration)
	fmt.Printf("Responses received: %d\n", stats.TotalResponses)
	fmt.Printf("Bytes received: %d\n", bytesReceived(s))
	if s.Stream != nil {
		ts := s.Stream.Stats()
		fmt.Printf("Connects: %d\n", ts.Connects)
		fmt.Printf("Failed attempts: %d\n", ts.ConnectFailures)
	}
	fmt.Printf("Link drops: %d\n", stats.ConnectionLoss)

	if stats.ConnectionLoss > 0 {
		fmt.Printf("Result: FAILED (link dropped)\n")
		os.Exit(1)
	}
	fmt.Printf("Result: PASSED (connection stable)\n")
	return nil
}

func bytesReceived(s *Session) uint64 {
	var n uint64
	if s.Stream != nil {
		n += s.Stream.Stats().BytesReceived
	}
	if s.Serial != nil {
		n += s.Serial.BytesReceived()
	}
	return n
}
