package main

import "github.com/ethanolivertroy/sbomgraph/cmd"

func main() {
	cmd.Execute()
}
