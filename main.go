package main

import "github.com/agentloop/agentloop/cmd"

func main() {
	cmd.Execute()
}
