package main

import "modtile/cmd"

func main() {
	cmd.Execute()
}
