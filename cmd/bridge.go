// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/bluestat/pkg/config"
	"github.com/Thermoquad/bluestat/pkg/heater"
	"github.com/spf13/cobra"
)

var (
	frameTestTimeout  int
	bridgePingTimeout int
	bridgePingCount   int
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Diagnose a serial or WebSocket bridge",
	Long: `Talk to a serial or WebSocket bridge directly, without the GATT layer.

Exit codes:
  0 - Success
  1 - Timeout or lost responses
  2 - Connection error`,
}

var frameTestCmd = &cobra.Command{
	Use:   "frame-test",
	Short: "Wait for a valid heater status frame",
	Long: `Wait for a valid heater status frame on the bridge until timeout.

Frames that do not decode as a heater status are counted and skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runFrameTest,
}

var bridgePingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send status requests and time the responses",
	Long: `Write the status request command to the bridge and wait for the next
status frame, --count times. Reports the round trip time of each request
and the loss rate.`,
	Args: cobra.NoArgs,
	RunE: runBridgePing,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.AddCommand(frameTestCmd, bridgePingCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	bridgePingCmd.Flags().IntVar(&bridgePingTimeout, "timeout", 5, "Timeout in seconds for each request")
	bridgePingCmd.Flags().IntVar(&bridgePingCount, "count", 3, "Number of requests to send")
}

func openBridge(cmd *cobra.Command) (BridgeConnection, string) {
	if cfg.Transport.Kind == config.TransportBLE {
		fmt.Fprintf(os.Stderr, "Connection error: bridge commands need --port or --url\n")
		os.Exit(2)
	}
	conn, info, err := OpenConnection(cmd.Context(), cfg.Transport)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	return conn, info
}

type frameResult struct {
	status  *heater.Status
	skipped int
}

// readStatus reads frames until one decodes as a heater status
func readStatus(conn FrameReader) (frameResult, error) {
	var res frameResult
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return res, err
		}
		status, err := heater.Decode(frame)
		if err != nil {
			// Ignore decode errors, just count invalid frames
			res.skipped++
			continue
		}
		res.status = status
		return res, nil
	}
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	conn, connInfo := openBridge(cmd)
	defer conn.Close()

	fmt.Printf("Bluestat - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid heater frame...\n\n")

	resultChan := make(chan frameResult, 1)
	errChan := make(chan error, 1)

	// Reader goroutine
	go func() {
		res, err := readStatus(conn)
		if err != nil {
			errChan <- err
			return
		}
		resultChan <- res
	}()

	// Wait for frame or timeout
	select {
	case res := <-resultChan:
		if res.skipped > 0 {
			fmt.Printf("(skipped %d invalid frames)\n", res.skipped)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Layout: %s\n", res.status.Kind)
		fmt.Printf("  %s\n", heater.FormatStatusLine(res.status))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}

func runBridgePing(cmd *cobra.Command, args []string) error {
	if bridgePingCount < 1 {
		return errors.New("--count must be at least 1")
	}
	conn, connInfo := openBridge(cmd)
	defer conn.Close()

	fmt.Printf("Bluestat - Bridge Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per request\n", bridgePingTimeout)
	fmt.Printf("Count: %d requests\n\n", bridgePingCount)

	request, err := heater.NewCommand(heater.CmdRequestStatus)
	if err != nil {
		return err
	}
	wireBytes := request.Encode()

	// A single reader feeds every request; frames arriving late are
	// drained before the next request is sent
	statusChan := make(chan *heater.Status, 8)
	errChan := make(chan error, 1)
	go func() {
		for {
			res, err := readStatus(conn)
			if err != nil {
				errChan <- err
				return
			}
			select {
			case statusChan <- res.status:
			default:
			}
		}
	}()

	successCount := 0
	failCount := 0

	for i := 1; i <= bridgePingCount; i++ {
		fmt.Printf("Request %d/%d: ", i, bridgePingCount)

	drain:
		for {
			select {
			case <-statusChan:
			default:
				break drain
			}
		}

		startTime := time.Now()
		if _, err := conn.Write(wireBytes); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case status := <-statusChan:
			rtt := time.Since(startTime)
			fmt.Printf("status %s, rtt=%v\n", status.StateName(), rtt.Round(time.Millisecond))
			successCount++

		case err := <-errChan:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount += bridgePingCount - i + 1
			i = bridgePingCount

		case <-time.After(time.Duration(bridgePingTimeout) * time.Second):
			fmt.Printf("TIMEOUT (no response in %ds)\n", bridgePingTimeout)
			failCount++
		}

		// Small delay between requests
		if i < bridgePingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d requests sent, %d responses received, %.0f%% loss\n",
		bridgePingCount, successCount, float64(failCount)/float64(bridgePingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
