package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cinedeck version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cinedeck version %s\n", version)
		},
	}
}
