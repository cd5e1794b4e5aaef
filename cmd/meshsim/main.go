package main

import "github.com/relaymesh/meshsim/cmd/meshsim/cmd"

func main() {
	cmd.Execute()
}
