package main

import (
	"log"

	"github.com/thiagokokada/refdiff/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("refdiff: %v", err)
	}
}
