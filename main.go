package main

import (
	"log"

	"github.com/thiagokokada/gitodyssey/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("gitodyssey: %v", err)
	}
}
