package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "orgchart",
		Short:         "Org chart graph server and layout tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newLayoutCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
