package main

import "pm-embed/internal/cli"

func main() {
	cli.Execute()
}
