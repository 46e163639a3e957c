// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
	"github.com/spf13/cobra"
)

var rawLogQuery bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display response lines as they arrive",
	Long: `Continuously display every line the switcher sends, with a timestamp and
the response kind it was classified as. Malformed reports are shown with
the parse error.

Use --query to send GET STA once connected so the full status is dumped.

Supports TCP, WebSocket and serial connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogQuery, "query", false, "Send a status query after connecting")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	s, _ := openCLISession(cmd, nil)
	defer s.Close()

	fmt.Printf("Matrixctl - Raw Response Log\n")
	fmt.Printf("Connection: %s\n", s.Info)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	s.Client.OnResponse(func(r matrix.Response) {
		fmt.Print(matrix.FormatResponse(r))
	})
	s.Client.OnConnectionStatus(func(st transport.Status) {
		fmt.Printf("[%s] -- %s\n", time.Now().Format("15:04:05.000"), st)
	})

	if rawLogQuery {
		if err := s.Client.QueryStatus(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}
