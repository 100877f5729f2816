package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Must-be-Ash/x402-firecrawl/paygate"
	"github.com/Must-be-Ash/x402-firecrawl/pkg/operator"
)

var breakerAddr string

var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or reset the circuit breaker of a running server",
}

var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the circuit breaker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := operator.NewClient(breakerAddr, 10*time.Second).BreakerStatus(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

var breakerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Close the circuit and clear the failure count",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := operator.NewClient(breakerAddr, 10*time.Second).ResetBreaker(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Circuit breaker reset")
		printStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	breakerCmd.PersistentFlags().StringVar(&breakerAddr, "addr", operator.DefaultAddr, "operator server address")
	breakerCmd.AddCommand(breakerStatusCmd)
	breakerCmd.AddCommand(breakerResetCmd)
}

func printStatus(w io.Writer, s *paygate.BreakerStatus) {
	state := "closed"
	if s.Open {
		state = "open"
	}
	fmt.Fprintf(w, "State:                %s\n", state)
	fmt.Fprintf(w, "Consecutive failures: %d/%d\n", s.ConsecutiveFailures, s.MaxFailures)
	if !s.LastFailure.IsZero() {
		fmt.Fprintf(w, "Last failure:         %s\n", s.LastFailure.Format(time.RFC3339))
	}
	if s.Open {
		fmt.Fprintf(w, "Retry in:             %s\n", s.CooldownRemaining.Round(time.Second))
	}
}
