package main

import (
	"os"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/msgrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Error("msgrelay failed", "err", err)
		os.Exit(1)
	}
}
