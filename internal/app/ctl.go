package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhukov-alex/flakeid/internal/issuer"
	"github.com/zhukov-alex/flakeid/internal/server"
	"github.com/zhukov-alex/flakeid/pkg/flake"
)

type ctlOptions struct {
	transport string
	addr      string
	timeout   time.Duration
}

// NewCtlCmd builds the flakectl command tree.
func NewCtlCmd() *cobra.Command {
	opts := &ctlOptions{}

	root := &cobra.Command{
		Use:           "flakectl",
		Short:         "Client for the flaked id service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.transport, "transport", "tcp", "Transport to use: tcp or grpc")
	root.PersistentFlags().StringVar(&opts.addr, "addr", "localhost:7000", "Address of the flaked server")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "Request timeout")

	root.AddCommand(
		&cobra.Command{
			Use:   "next",
			Short: "Issue one id",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return opts.withClient(cmd.Context(), func(ctx context.Context, c server.Client) error {
					id, err := c.Next(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "batch N",
			Short: "Issue N consecutive ids",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 || n > 65535 {
					return fmt.Errorf("%w: %q (must be 1..65535)", issuer.ErrInvalidBatchSize, args[0])
				}
				return opts.withClient(cmd.Context(), func(ctx context.Context, c server.Client) error {
					ids, err := c.NextBatch(ctx, n)
					if err != nil {
						return err
					}
					for _, id := range ids {
						fmt.Fprintln(cmd.OutOrStdout(), id)
					}
					return nil
				})
			},
		},
		newDecomposeCmd(opts),
	)
	return root
}

func newDecomposeCmd(opts *ctlOptions) *cobra.Command {
	var (
		startTime string
		remote    bool
	)
	cmd := &cobra.Command{
		Use:   "decompose ID",
		Short: "Split an id into its fields",
		Long: "Split an id into its fields. Runs offline unless --remote is set, " +
			"in which case the server resolves the issue time with its own start time.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := flake.ParseID(args[0])
			if err != nil {
				return err
			}

			if remote {
				return opts.withClient(cmd.Context(), func(ctx context.Context, c server.Client) error {
					d, err := c.Decompose(ctx, id)
					if err != nil {
						return err
					}
					return printDecomposed(cmd.OutOrStdout(), d)
				})
			}

			start := flake.DefaultStartTime
			if startTime != "" {
				if start, err = time.Parse(time.RFC3339, startTime); err != nil {
					return fmt.Errorf("invalid --start-time: %w", err)
				}
			}
			parts := flake.Decompose(id)
			return printDecomposed(cmd.OutOrStdout(), issuer.Decomposed{
				Parts:    parts,
				IssuedAt: parts.Timestamp(start),
			})
		},
	}
	cmd.Flags().StringVar(&startTime, "start-time", "", "Generator start time (RFC3339), defaults to 2014-09-01T00:00:00Z")
	cmd.Flags().BoolVar(&remote, "remote", false, "Ask the server instead of decoding locally")
	return cmd
}

func (o *ctlOptions) dial(ctx context.Context) (server.Client, error) {
	switch o.transport {
	case "tcp":
		return server.DialTCP(ctx, o.addr)
	case "grpc":
		return server.DialGRPC(o.addr)
	default:
		return nil, fmt.Errorf("unsupported transport: %q", o.transport)
	}
}

func (o *ctlOptions) withClient(ctx context.Context, fn func(context.Context, server.Client) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	c, err := o.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	return fn(ctx, c)
}

func printDecomposed(w io.Writer, d issuer.Decomposed) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		ID        string    `json:"id"`
		MSB       uint64    `json:"msb"`
		Time      uint64    `json:"time"`
		Sequence  uint64    `json:"sequence"`
		MachineID uint64    `json:"machine_id"`
		IssuedAt  time.Time `json:"issued_at"`
	}{
		ID:        strconv.FormatUint(d.ID, 10),
		MSB:       d.MSB,
		Time:      d.Time,
		Sequence:  d.Sequence,
		MachineID: d.MachineID,
		IssuedAt:  d.IssuedAt,
	})
}
