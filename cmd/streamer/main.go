package main

import (
	"os"

	"github.com/Sarowar6362/streamer56/cmd/streamer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
