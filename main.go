package main

import "github.com/tanq16/vidzo/cmd"

func main() {
	cmd.Execute()
}
