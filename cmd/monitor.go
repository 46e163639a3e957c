// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/matrixctl/internal/logging"
	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Track malformed and unrecognised responses",
	Long: `Classify every response line and keep statistics.

This command reports:
  - Malformed reports (unparsable addresses, ports, flags)
  - Reports naming a port the model does not have
  - Unmatched lines (banners, echoes, unknown responses)
  - Link drops and reconnects
  - Statistics and trends (response rate, error rate)

By default, only problems are displayed. Use --show-all to display every
classified line too.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all responses (not just problems)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	var logger *logging.Logger
	if useTUI {
		logger = logging.Discard()
	}
	s, _ := openCLISession(cmd, logger)
	defer s.Close()

	if useTUI {
		return runMonitorTUI(s)
	}
	return runMonitorText(s)
}

func runMonitorTUI(s *Session) error {
	m := initialMonitorModel(s, statsInterval, showAll)
	p := tea.NewProgram(m)

	s.Client.OnResponse(func(r matrix.Response) {
		p.Send(responseMsg(r))
	})
	s.Client.OnConnectionStatus(func(st transport.Status) {
		p.Send(statusMsg(st))
	})

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// printProblem prints a malformed or unmatched response in highlighted form
func printProblem(r matrix.Response) {
	timestamp := r.Time.Format("15:04:05.000")

	if r.Err == nil {
		fmt.Printf("[%s] \033[1;33mUNMATCHED:\033[0m %q\n\n", timestamp, r.Line)
		return
	}

	label := "MALFORMED"
	if errors.Is(r.Err, matrix.ErrOutOfRange) {
		label = "OUT OF RANGE"
	}
	fmt.Printf("[%s] \033[1;31m%s:\033[0m %s\n", timestamp, label, r.Kind)
	fmt.Printf("  Line: %q\n", r.Line)
	fmt.Printf("  Error: %v\n", r.Err)
	fmt.Printf("  >>> REPORT IGNORED <<<\n\n")
}

func runMonitorText(s *Session) error {
	fmt.Printf("Matrixctl - Response Monitor\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All responses\n")
	} else {
		fmt.Printf("Mode: Problems only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	responses := make(chan matrix.Response, 64)
	s.Client.OnResponse(func(r matrix.Response) {
		responses <- r
	})
	s.Client.OnConnectionStatus(func(st transport.Status) {
		fmt.Printf("[%s] \033[1;36mLINK:\033[0m %s\n\n", time.Now().Format("15:04:05.000"), st)
	})

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case r := <-responses:
			if r.Err != nil || r.Kind == matrix.KindUnmatched {
				printProblem(r)
			} else if showAll {
				fmt.Print(matrix.FormatResponse(r))
			}

		case <-statsTicker.C:
			stats := s.Client.Statistics()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
