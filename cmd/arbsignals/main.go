package main

import "arbsignals/internal/cli"

func main() {
	cli.Execute()
}
