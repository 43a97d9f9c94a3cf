package main

import "github.com/forPelevin/chatcut/internal/cli"

func main() {
	cli.Main()
}
