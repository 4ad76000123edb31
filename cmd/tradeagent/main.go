package main

import "github.com/rustyeddy/tradeagent/internal/cli"

func main() {
	cli.Execute()
}
