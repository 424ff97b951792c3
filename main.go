package main

import (
	"log"

	"soundrise/cmd"
)

func main() {
	cmd.Execute()
	// Cobra calls os.Exit on failure; reaching here means the command
	// completed (or a long-running server started cleanly).
	log.Println("Command execution finished.")
}
