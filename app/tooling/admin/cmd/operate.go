package cmd

import (
	"github.com/spf13/cobra"
)

var reason string

var mineCmd = &cobra.Command{
	Use:       "mine <start|stop>",
	Short:     "Turn mining on or off.",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"start", "stop"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return operate("/v1/mining/"+args[0], nil)
	},
}

var banCmd = &cobra.Command{
	Use:   "ban <ip>",
	Short: "Ban an ip and disconnect its peers.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := struct {
			IP     string `json:"ip"`
			Reason string `json:"reason"`
		}{
			IP:     args[0],
			Reason: reason,
		}
		return operate("/v1/peers/ban", body)
	},
}

var unbanCmd = &cobra.Command{
	Use:   "unban [ip]",
	Short: "Clear the standing of an ip, or of every ip.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var body struct {
			IP string `json:"ip,omitempty"`
		}
		if len(args) == 1 {
			body.IP = args[0]
		}
		return operate("/v1/peers/unban", body)
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect <host:port>",
	Short: "Dial a peer.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := struct {
			Address string `json:"address"`
		}{
			Address: args[0],
		}
		return operate("/v1/peers/connect", body)
	},
}

func init() {
	rootCmd.AddCommand(mineCmd)
	rootCmd.AddCommand(banCmd)
	rootCmd.AddCommand(unbanCmd)
	rootCmd.AddCommand(connectCmd)
	banCmd.Flags().StringVarP(&reason, "reason", "r", "operator", "Reason recorded with the ban.")
}

func operate(path string, body any) error {
	var doc any
	if err := post(privateURL+path, body, &doc); err != nil {
		return err
	}

	return show(doc)
}
