package main

import "github.com/pmmp-data/harvester/cmd"

func main() {
	cmd.Execute()
}
