package main

import "gosnoop/internal/cli"

func main() {
	cli.Execute()
}
