// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/spf13/cobra"
)

var (
	statusTimeout int
	statusSettle  int
	statusJSON    bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the full device status",
	Long: `Send GET STA, wait for the reports to stop arriving and print the
mirrored device state: network setup, routing, input signals and, on
models that have them, fan and temperature.

Use --json for machine-readable output (0-based port indexes, -1 for
outputs that were not reported).

Exit codes:
  0 - Status printed
  1 - No reports received before timeout
  2 - Connection error`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVar(&statusTimeout, "timeout", 5, "Timeout in seconds to wait for the first report")
	statusCmd.Flags().IntVar(&statusSettle, "settle", 500, "Milliseconds without a report that end the dump")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the state as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, _ := openCLISession(cmd, nil)
	defer s.Close()

	lines := newResponseCollector(s.Client)
	if err := sendStatusQueries(s.Client, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
		os.Exit(2)
	}

	got := lines.wait(time.Duration(statusTimeout)*time.Second, time.Duration(statusSettle)*time.Millisecond)
	if len(got) == 0 {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No reports within %d seconds\n", statusTimeout)
		os.Exit(1)
	}

	state := s.Client.State()
	if statusJSON {
		out, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Print(matrix.FormatState(s.Client.Model(), state))
	return nil
}

// sendStatusQueries sends GET STA and, on models with a sensor, GET TEMP.
// Only the status query is fatal; a failed temperature query is reported
// on warn.
func sendStatusQueries(c *matrix.Client, warn io.Writer) error {
	if err := c.QueryStatus(); err != nil {
		return err
	}
	if c.Model().SupportsTemperature() {
		if err := c.GetTemperature(); err != nil {
			fmt.Fprintf(warn, "Temperature query failed: %v\n", err)
		}
	}
	return nil
}

// responseCollector buffers the responses of a client for commands that
// print what the device answered.
type responseCollector struct {
	ch chan matrix.Response
}

func newResponseCollector(c *matrix.Client) *responseCollector {
	rc := &responseCollector{ch: make(chan matrix.Response, 256)}
	c.OnResponse(func(r matrix.Response) {
		select {
		case rc.ch <- r:
		default:
		}
	})
	return rc
}

// wait returns the responses received until no line has arrived for
// settle. timeout caps the whole wait.
func (rc *responseCollector) wait(timeout, settle time.Duration) []matrix.Response {
	var got []matrix.Response
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		var quiet <-chan time.Time
		if len(got) > 0 {
			quiet = time.After(settle)
		}
		select {
		case r := <-rc.ch:
			got = append(got, r)
		case <-quiet:
			return got
		case <-deadline.C:
			return got
		}
	}
}
