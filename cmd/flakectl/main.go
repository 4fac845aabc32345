package main

import (
	"log"

	"github.com/zhukov-alex/flakeid/internal/app"
)

func main() {
	log.SetFlags(0)

	if err := app.NewCtlCmd().Execute(); err != nil {
		log.Fatalf("flakectl: %v", err)
	}
}
