package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/weiche/pkg/api"
	"github.com/rhuss/weiche/pkg/transport"
)

type dispatchOptions struct {
	file   string
	vendor string
	model  string
}

func newDispatchCmd(root *rootOptions) *cobra.Command {
	opts := dispatchOptions{}
	cmd := &cobra.Command{
		Use:   "dispatch -f request.json",
		Short: "Execute one request and print the canonical response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			req, err := readRequest(opts.file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if opts.vendor != "" {
				req.Vendor = api.Vendor(opts.vendor)
			}
			if opts.model != "" {
				req.Model = opts.model
			}

			gw, err := buildGateway(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer gw.Close()

			return runDispatch(cmd.Context(), gw.router, req, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&opts.file, "file", "f", "", "request JSON file, - for stdin")
	fs.StringVar(&opts.vendor, "vendor", "", "override the request vendor")
	fs.StringVar(&opts.model, "model", "", "override the request model")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readRequest decodes a request from path, or from stdin when path is "-".
func readRequest(path string, stdin io.Reader) (api.Request, error) {
	var req api.Request

	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, fmt.Errorf("opening request: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decoding request: %w", err)
	}
	return req, nil
}

// runDispatch sends req through the same middleware the server uses and
// prints the response. A failed dispatch still prints its response and is
// reported as an error.
func runDispatch(ctx context.Context, d transport.Dispatcher, req api.Request, out io.Writer) error {
	d = transport.Chain(
		transport.Recovery(),
		transport.RequestID(),
		transport.Logging(slog.Default()),
	)(d)

	resp, err := d.Dispatch(ctx, req)
	if resp == nil {
		if err == nil {
			err = fmt.Errorf("dispatcher returned no response")
		}
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(resp); encErr != nil {
		return fmt.Errorf("writing response: %w", encErr)
	}

	if resp.Error != nil {
		return fmt.Errorf("dispatch failed: %s: %s", resp.Error.Kind, resp.Error.Message)
	}
	return nil
}
