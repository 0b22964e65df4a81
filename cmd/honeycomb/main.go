package main

import "github.com/jmcleod/honeycomb/cmd/honeycomb/cmd"

func main() {
	cmd.Execute()
}
