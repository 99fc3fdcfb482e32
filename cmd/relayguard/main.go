package main

import "github.com/relayguard/relayguard/cmd/relayguard/cmd"

func main() {
	cmd.Execute()
}
