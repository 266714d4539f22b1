package main

import "hibikido/cmd"

func main() {
	cmd.Execute()
}
