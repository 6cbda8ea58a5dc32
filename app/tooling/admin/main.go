// This program performs administrative tasks against a running node.
package main

import "github.com/ardanlabs/chainnode/app/tooling/admin/cmd"

func main() {
	cmd.Execute()
}
