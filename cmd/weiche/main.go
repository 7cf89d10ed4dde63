// Command weiche runs the multi-vendor LLM dispatch gateway.
//
// Subcommands:
//
//	serve     - start the HTTP gateway
//	validate  - load and validate the configuration, then exit
//	dispatch  - execute one request from a JSON file and print the response
//
// Configuration is read from --config, WEICHE_CONFIG, ./config.yaml or
// /etc/weiche/config.yaml, with WEICHE_* environment overrides.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
