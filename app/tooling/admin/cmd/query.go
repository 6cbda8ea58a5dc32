package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of the node.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return query(publicURL + "/v1/node/status")
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Print the connected peers.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return query(publicURL + "/v1/peers/list")
	},
}

var standingsCmd = &cobra.Command{
	Use:   "standings",
	Short: "Print the standing of every penalized peer.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return query(publicURL + "/v1/peers/standings")
	},
}

var blockCmd = &cobra.Command{
	Use:   "block <height|hash>",
	Short: "Print a block by height or by hash.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := strconv.ParseUint(args[0], 10, 64); err == nil {
			return query(fmt.Sprintf("%s/v1/blocks/height/%s", publicURL, args[0]))
		}
		return query(fmt.Sprintf("%s/v1/blocks/hash/%s", publicURL, args[0]))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(standingsCmd)
	rootCmd.AddCommand(blockCmd)
}

func query(url string) error {
	var doc any
	if err := get(url, &doc); err != nil {
		return err
	}

	return show(doc)
}
