package main

import "github.com/fleetworks/fleetd/cmd"

func main() {
	cmd.Execute()
}
