package main

import "github.com/deemkeen/pubcore/cmd"

func main() {
	cmd.Execute()
}
