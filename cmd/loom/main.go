package main

import "github.com/loom-agent/loom/cli"

func main() {
	cli.Execute()
}
