package main

import "github.com/bryanchriswhite/focusprobe/cmd/focusprobe/commands"

func main() {
	commands.Execute()
}
