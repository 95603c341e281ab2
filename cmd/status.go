package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clglinterop/internal/interop"
	"github.com/cwbudde/clglinterop/internal/server"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running session",
	Long:  `Queries the telemetry server of a "run --listen" session for its mode, frame count and latest perf report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryStatus(cmd.OutOrStdout(), httpClient(), serverURL)
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode <texture|pbo|map|next>",
	Short: "Ask a running session to switch mode",
	Long:  `The switch is applied by the session at its next frame boundary.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return requestMode(cmd.OutOrStdout(), httpClient(), serverURL, args[0])
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, modeCmd} {
		c.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Telemetry server URL")
		rootCmd.AddCommand(c)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func serverError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

func queryStatus(out io.Writer, client *http.Client, baseURL string) error {
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/api/v1/status")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}

	var st interop.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Fprintf(out, "Mode: %s (%s)\n", st.Mode, st.Mode.Description())
	fmt.Fprintf(out, "Frame: %dx%d\n", st.Width, st.Height)
	fmt.Fprintf(out, "Implicit sync: %s\n", yesNo(st.ImplicitSync))
	fmt.Fprintf(out, "Frames: %d\n", st.Frames)
	if st.ZeroCopyWarnings > 0 {
		fmt.Fprintf(out, "Zero-copy warnings: %d\n", st.ZeroCopyWarnings)
	}
	if st.LastReport != nil {
		fmt.Fprintf(out, "\nLast report (%s, FPS: %.2f):\n", st.LastReport.Mode, st.LastReport.FPS)
		st.LastReport.WriteText(out)
	}
	return nil
}

func requestMode(out io.Writer, client *http.Client, baseURL, name string) error {
	req := server.ModeRequest{Mode: name}
	if name == "next" {
		req = server.ModeRequest{Next: true}
	} else if _, err := interop.ParseMode(name); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	resp, err := client.Post(strings.TrimRight(baseURL, "/")+"/api/v1/mode", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return serverError(resp)
	}
	var ack server.ModeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Fprintf(out, "Requested %s (current: %s)\n", ack.Requested, ack.Current)
	return nil
}
