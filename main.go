package main

import "github.com/releasemehq/releaseme/cmd"

func main() {
	cmd.Execute()
}
