package main

import "github.com/superdup-project/superdup/internal/cli"

func main() {
	cli.Execute()
}
