package main

import "github.com/certpilot/certpilot-cli/cmd"

func main() {
	cmd.Execute()
}
