// Command runpod-worker is a reference worker binary: it wires a sample
// handler into the runpod package's public Start/TestInput entrypoints,
// the way sky93-taskflow's test/main.go wired addCustomerJob into
// TaskFlow.New/StartWorkers. Real workers import github.com/runpod/worker
// directly and write their own main package; this one exists to exercise
// the CLI surface end to end.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	runpod "github.com/runpod/worker"
	"github.com/runpod/worker/cmd/runpod-worker/handler"
)

func main() {
	var testInput string
	var logLevel string
	var rpDebugger bool
	var serveAPI bool

	root := &cobra.Command{
		Use:   "runpod-worker",
		Short: "Runs a RunPod Serverless worker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				os.Setenv("RUNPOD_DEBUG_LEVEL", logLevel)
			}

			if testInput != "" {
				ok, err := runpod.TestInput(handler.Handle, testInput,
					runpod.WithDebugger(rpDebugger))
				if err != nil {
					return err
				}
				if !ok {
					os.Exit(1)
				}
				return nil
			}

			if serveAPI {
				fmt.Fprintln(os.Stderr, "runpod-worker: --rp_serve_api starts a minimal local dev echo "+
					"server (POST /run), not the full local API server")
				return runpod.ServeAPI(handler.Handle, runpod.WithDebugger(rpDebugger))
			}

			return runpod.Start(handler.Handle, runpod.WithDebugger(rpDebugger))
		},
	}

	root.Flags().StringVar(&logLevel, "rp_log_level", "", "Controls what level of logs are printed to the console. Options: ERROR, WARNING, INFO, DEBUG.")
	root.Flags().BoolVar(&rpDebugger, "rp_debugger", false, "Flag to enable the debugger.")
	root.Flags().BoolVar(&serveAPI, "rp_serve_api", false, "Flag to start the local API server.")
	root.Flags().StringVar(&testInput, "test_input", "", "Test input for the worker, formatted as JSON.")

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
