// Package cli exposes the retrieval service as the hybridctl command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kirillkom/hybrid-retriever/internal/core/ports"
)

// Opener wires a retrieval service for one command invocation. The returned
// func releases whatever the service holds.
type Opener func(ctx context.Context) (ports.RetrievalService, func(), error)

func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "hybridctl",
		Short:         "Build and query hybrid retrieval indexes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(indexCMD(open), searchCMD(open))
	return root
}
