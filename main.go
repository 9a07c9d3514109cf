package main

import "tabkeeper/cmd"

func main() {
	cmd.Execute()
}
