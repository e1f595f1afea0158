package main

import "github.com/antoniostano/taskwire/cmd/taskwire/commands"

func main() {
	commands.Execute()
}
