// cmd/server/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"modbus-connector/internal/discovery/serial"
	"modbus-connector/internal/protocol"
)

var (
	configPath string
	probePorts bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "modbus-connector",
	Short: "Modbus TCP and serial connection service",
	Long: `modbus-connector keeps one managed link per configured Modbus device,
queues read and write commands against it and reconnects after transport failures.
Running without a subcommand starts the server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and WebSocket server",
	RunE:  runServe,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List local serial ports",
	RunE:  runPorts,
}

var transportsCmd = &cobra.Command{
	Use:   "transports",
	Short: "List supported client types and variants",
	RunE:  runTransports,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: ./config.yaml or ./configs/config.yaml)")

	portsCmd.Flags().BoolVar(&probePorts, "probe", false, "open each port to detect ports already in use")
	portsCmd.Flags().BoolVar(&jsonOutput, "json", false, "print ports as JSON")
	transportsCmd.Flags().BoolVar(&jsonOutput, "json", false, "print transports as JSON")

	rootCmd.AddCommand(serveCmd, portsCmd, transportsCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	app, err := NewApplication(configPath)
	if err != nil {
		return err
	}
	return app.Start()
}

func runPorts(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	if !jsonOutput {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer logger.Sync()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	scanner := serial.NewScanner(logger, &serial.Config{Probe: probePorts})
	ports, err := scanner.Scan(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(ports)
	}

	if len(ports) == 0 {
		fmt.Fprintln(out, "No serial ports found")
		return nil
	}
	for _, port := range ports {
		line := port.Name
		if port.IsUSB {
			line += fmt.Sprintf("  usb %s:%s", port.VID, port.PID)
			if port.Product != "" {
				line += "  " + port.Product
			}
		}
		if port.Busy {
			line += "  (busy)"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runTransports(cmd *cobra.Command, args []string) error {
	registry := protocol.NewDefaultRegistry(zap.NewNop())
	keys := registry.ListTransports()

	out := cmd.OutOrStdout()
	if jsonOutput {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(keys)
	}
	for _, key := range keys {
		fmt.Fprintln(out, key.String())
	}
	return nil
}
