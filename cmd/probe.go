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

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by waiting for a recognised response",
	Long: `Send a status query and wait for any response the client recognises.

Unmatched lines (banners, echoes) and malformed reports are counted but do
not end the wait.

Exit codes:
  0 - Response received before timeout
  1 - Timeout reached without a recognised response
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a response")
}

func runProbe(cmd *cobra.Command, args []string) error {
	s, _ := openCLISession(cmd, nil)
	defer s.Close()

	fmt.Printf("Matrixctl - Probe\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for a response...\n\n")

	got := make(chan matrix.Response, 1)
	s.Client.OnResponse(func(r matrix.Response) {
		if r.Kind == matrix.KindUnmatched || r.Err != nil {
			return
		}
		select {
		case got <- r:
		default:
		}
	})

	if err := s.Client.QueryStatus(); err != nil {
		fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
		os.Exit(2)
	}

	select {
	case r := <-got:
		stats := s.Client.Statistics()
		if skipped := stats.Unmatched + stats.Malformed; skipped > 0 {
			fmt.Printf("(skipped %d unrecognised lines)\n", skipped)
		}
		fmt.Printf("SUCCESS: Received response\n")
		fmt.Printf("  Kind: %s\n", r.Kind)
		fmt.Printf("  Line: %q\n", r.Line)
		os.Exit(0)

	case <-time.After(time.Duration(probeTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No response within %d seconds\n", probeTimeout)
		os.Exit(1)
	}

	return nil
}
