package main

import "github.com/cartkit/nxcart/cmd/nxcart/cmd"

func main() {
	cmd.Execute()
}
