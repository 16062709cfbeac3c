package main

import "gainscan/cmd"

func main() {
	cmd.Execute()
}
