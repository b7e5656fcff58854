package main

import "labelpanel/cmd"

func main() {
	cmd.Execute()
}
