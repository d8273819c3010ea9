package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(linkCmd)
}

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Print a web link that opens the chat selected by the flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		params, err := newParams(cfg)
		if err != nil {
			return err
		}
		link, err := params.Link(linkBase(cfg))
		if err != nil {
			return err
		}
		fmt.Println(link)
		return nil
	},
}
