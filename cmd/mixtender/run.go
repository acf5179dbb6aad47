package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/calvinmclean/mixtender/controller"
)

func NewRunCommand() *cobra.Command {
	var port, baudRate string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the machine and forward commands from stdin",
		Long: `Connect to the machine and forward commands from stdin.

The serial port is taken from --port, then SERIAL_PORT, then the first USB serial
port found. Use "None" to run without a machine.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := controller.Config{SerialPort: port, BaudRate: baudRate}
			if cfg.SerialPort == "" {
				envCfg, err := controller.ConfigFromEnv()
				if err != nil {
					return err
				}
				cfg.SerialPort = envCfg.SerialPort
				if cfg.BaudRate == "" {
					cfg.BaudRate = envCfg.BaudRate
				}
			}

			c, err := controller.New(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, stop := runContext(cmd)
			defer stop()

			return c.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "serial port of the machine")
	cmd.Flags().StringVarP(&baudRate, "baud", "b", "", "baud rate (default 115200)")

	return cmd
}

func NewPortsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List USB serial ports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := controller.GetSerialPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

// runContext is cancelled on interrupt
func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}
