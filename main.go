package main

import "puborch/cmd"

func main() {
	cmd.Run()
}
