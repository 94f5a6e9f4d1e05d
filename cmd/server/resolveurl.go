package main

import (
	"fmt"

	"github.com/Brownie44l1/imgclass-api/internal/provision"
	"github.com/spf13/cobra"
)

func newResolveURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve-url <share-link>",
		Short: "Show the direct-download URL derived from a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link := provision.ResolveLink(args[0])
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider: %s\n", link.Provider)
			fmt.Fprintf(out, "direct:   %s\n", link.Direct)
			if link.FileID != "" {
				fmt.Fprintf(out, "file id:  %s\n", link.FileID)
			}
			if link.Provider == provision.ProviderPassthrough {
				fmt.Fprintln(out, "warning:  unrecognized host, the URL may not serve the raw file")
			}
			return nil
		},
	}
}
