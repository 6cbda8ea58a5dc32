package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var dataDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the key a node signs its mined blocks with.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		privateKey, err := crypto.GenerateKey()
		if err != nil {
			return err
		}

		path := filepath.Join(dataDir, "miner.ecdsa")
		if err := crypto.SaveECDSA(path, privateKey); err != nil {
			return err
		}

		fmt.Println("key:", path)
		fmt.Println("account:", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().StringVarP(&dataDir, "data-dir", "d", "zblock/", "Data directory of the node.")
}
