package main

import "grip/cmd"

func main() {
	cmd.Execute()
}
