// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/matrixctl/internal/logging"
	"github.com/Thermoquad/matrixctl/pkg/matrix"
	"github.com/Thermoquad/matrixctl/pkg/transport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for routing a matrix switcher",
	Long: `Route inputs to outputs via an interactive terminal UI.

Features:
  - Live routing table (video and audio)
  - Input signal detection
  - Temperature and fan state on models that report them
  - Statistics tracking
  - Event logging
  - Automatic reconnection on connection loss

Tab cycles between the output list, the input field and the route button.
Arrow keys navigate the output list. 'a' switches between video and audio
routing, 'r' re-reads the full device status.

Supports TCP, WebSocket and serial connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// eventBatcher collects client events and hands them to the TUI at a fixed
// rate, so a full status dump redraws once instead of once per line.
type eventBatcher struct {
	p         *tea.Program
	responses chan matrix.Response
	statuses  chan transport.Status
	done      chan struct{}
}

func newEventBatcher(c *matrix.Client) *eventBatcher {
	b := &eventBatcher{
		responses: make(chan matrix.Response, 256),
		statuses:  make(chan transport.Status, 16),
		done:      make(chan struct{}),
	}
	c.OnResponse(func(r matrix.Response) {
		select {
		case b.responses <- r:
		default:
		}
	})
	c.OnConnectionStatus(func(st transport.Status) {
		select {
		case b.statuses <- st:
		default:
		}
	})
	return b
}

func (b *eventBatcher) run() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			var batch controlBatchMsg

			// Drain all available events
		drainLoop:
			for {
				select {
				case r := <-b.responses:
					batch.responses = append(batch.responses, r)
				case st := <-b.statuses:
					batch.statuses = append(batch.statuses, st)
				default:
					break drainLoop
				}
			}

			if len(batch.responses) > 0 || len(batch.statuses) > 0 {
				b.p.Send(batch)
			}
		}
	}
}

func runControl(cmd *cobra.Command, args []string) error {
	s, _ := openCLISession(cmd, logging.Discard())

	batcher := newEventBatcher(s.Client)
	m := initialControlModel(s)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	batcher.p = p

	go batcher.run()

	_, err := p.Run()
	close(batcher.done)
	s.Close()
	if err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
