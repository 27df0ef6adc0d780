package main

import "github.com/traso56/oribot/cmd"

func main() {
	cmd.Execute()
}
