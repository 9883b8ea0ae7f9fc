package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7/pkg/notification"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-content-derivatives/pkg/client"
	"github.com/tendant/simple-content-derivatives/pkg/pipeline"
	"github.com/tendant/simple-content-derivatives/pkg/runner"
)

// DispatchCmd returns the dispatch command
func DispatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one bucket notification batch and print the outcomes",
		Long: "Reads an S3-compatible bucket notification payload and runs it through a pipeline, " +
			"either in-process or against a running server. Failed records do not change the exit status.",
		RunE: handleDispatchCmd,
	}
	cmd.Flags().String("pipeline", "", "Pipeline to run (labels, thumbnail)")
	cmd.Flags().String("file", "-", "Notification JSON file, - for stdin")
	cmd.Flags().String("server", "", "Base URL of a running server; empty runs in-process")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func handleDispatchCmd(cmd *cobra.Command, _ []string) error {
	job, _ := cmd.Flags().GetString("pipeline")
	file, _ := cmd.Flags().GetString("file")
	server, _ := cmd.Flags().GetString("server")

	info, err := readNotifications(cmd.InOrStdin(), file)
	if err != nil {
		return err
	}

	var resp pipeline.DispatchResponse
	if server != "" {
		out, err := client.New(server).Dispatch(cmd.Context(), job, info)
		if err != nil {
			return err
		}
		resp = *out
	} else {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		batch, err := pipeline.FromEvents(info)
		if err != nil {
			return err
		}
		r, err := runner.New(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer r.Close()

		outcomes, err := r.Dispatch(cmd.Context(), batch, job)
		if err != nil {
			return err
		}
		resp = pipeline.Summarize(job, outcomes)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func readNotifications(stdin io.Reader, file string) (notification.Info, error) {
	var info notification.Info
	var src io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return info, err
		}
		defer f.Close()
		src = f
	}
	if err := json.NewDecoder(src).Decode(&info); err != nil {
		if errors.Is(err, io.EOF) {
			return info, errors.New("empty notification payload")
		}
		return info, fmt.Errorf("%w: %v", pipeline.ErrMalformedBatch, err)
	}
	return info, nil
}
