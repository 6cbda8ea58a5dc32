// Package cmd contains the admin app.
package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ardanlabs/chainnode/business/web/errs"
	"github.com/spf13/cobra"
)

var (
	publicURL  string
	privateURL string
	timeout    time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&publicURL, "url", "u", "http://localhost:8080", "Url of the node public api.")
	rootCmd.PersistentFlags().StringVarP(&privateURL, "admin-url", "a", "http://localhost:9080", "Url of the node admin api.")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Timeout of a request.")
}

var rootCmd = &cobra.Command{
	Use:          "admin",
	Short:        "Query and operate a chain node",
	SilenceUsage: true,
}

// Execute runs the command named on the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// =============================================================================

func get(url string, val any) error {
	client := http.Client{Timeout: timeout}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp, val)
}

func post(url string, body any, val any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	client := http.Client{Timeout: timeout}

	resp, err := client.Post(url, "application/json", &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp, val)
}

func decode(resp *http.Response, val any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var ae errs.Response
		if err := json.Unmarshal(data, &ae); err != nil || ae.Error == "" {
			return fmt.Errorf("node answered %s", resp.Status)
		}
		if len(ae.Fields) > 0 {
			return fmt.Errorf("node answered %s: %s: %v", resp.Status, ae.Error, ae.Fields)
		}
		return fmt.Errorf("node answered %s: %s", resp.Status, ae.Error)
	}

	return json.Unmarshal(data, val)
}

func show(val any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}
