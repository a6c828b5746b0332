package main

import "github.com/dawgdevv/bitespeed/internal/cli"

func main() {
	cli.Execute()
}
