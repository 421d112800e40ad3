package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kumarabd/hostwatch/internal/config"
	"github.com/kumarabd/hostwatch/pkg/pipeline"
	"github.com/kumarabd/hostwatch/pkg/server"
)

const shutdownTimeout = 30 * time.Second

func newRootCommand() *cobra.Command {
	var dropInDir string

	root := &cobra.Command{
		Use:          config.ApplicationName,
		Short:        "Normalize, mask and deliver host telemetry to event collectors",
		Version:      config.ApplicationVersion,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dropInDir, "config-dir", config.DefaultDropInDir, "directory of *.conf configuration overlays")

	root.AddCommand(
		newServeCommand(&dropInDir),
		newDeliverCommand(&dropInDir),
		newRunCommand(&dropInDir),
		newPublishConfigCommand(&dropInDir),
	)
	return root
}

func newServeCommand(dropInDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the local delivery API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(*dropInDir)
			if err != nil {
				return err
			}

			srv, err := server.New(a.log, a.metric, a.config.Server, a.service)
			if err != nil {
				a.log.Error().Err(err).Msg("server initialization failed")
				return err
			}
			a.log.Info().Msg("server initialized")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch := make(chan struct{}, 1)
			srv.Start(ch)
			select {
			case <-ch:
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				return err
			}
			a.log.Info().Msg("server stopped")
			return nil
		},
	}
}

func newDeliverCommand(dropInDir *string) *cobra.Command {
	var (
		kind  string
		file  string
		retry bool
		mask  string
	)
	cmd := &cobra.Command{
		Use:   "deliver",
		Short: "Deliver records read from a JSON file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := pipeline.ParseKind(kind)
			if err != nil {
				return err
			}
			req, err := readRequest(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			req.Kind = k
			if cmd.Flags().Changed("retry") {
				req.Retry = retry
			}
			if mask != "" {
				req.Mask = mask
			}

			a, err := bootstrap(*dropInDir)
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), a.service.Deliver(cmd.Context(), req), nil)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "record kind: query, file_change, audit or log")
	cmd.Flags().StringVar(&file, "file", "-", "JSON request file, - for stdin")
	cmd.Flags().BoolVar(&retry, "retry", false, "retry failed batches against each collector")
	cmd.Flags().StringVar(&mask, "mask", "", "mask top file applied to query results")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func newRunCommand(dropInDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run <group>",
		Short: "Run a query group and deliver its results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(*dropInDir)
			if err != nil {
				return err
			}
			sum, err := a.service.RunGroup(cmd.Context(), args[0])
			return report(cmd.OutOrStdout(), sum, err)
		},
	}
}

func newPublishConfigCommand(dropInDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "publish-config",
		Short: "Deliver the agent configuration without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := bootstrap(*dropInDir)
			if err != nil {
				return err
			}
			sum, err := a.service.PublishConfig(cmd.Context())
			return report(cmd.OutOrStdout(), sum, err)
		},
	}
}

// readRequest decodes a delivery request from path, or stdin for "-"
func readRequest(path string, stdin io.Reader) (pipeline.Request, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return pipeline.Request{}, err
		}
		defer f.Close()
		r = f
	}
	var req pipeline.Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return pipeline.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// report prints the summary and turns an undelivered run into an error
func report(w io.Writer, sum pipeline.Summary, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(sum); err != nil {
		return err
	}
	if !sum.Delivered() {
		return fmt.Errorf("delivery incomplete: %d of %d batches failed", sum.Failed, sum.Batches)
	}
	return nil
}
