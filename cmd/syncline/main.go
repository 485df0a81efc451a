package main

import "github.com/duyttran/syncline/internal/cli"

func main() {
	cli.Execute()
}
