package main

import (
	"os"

	"github.com/klondi/mimicmod-lan/cmd/hubd/cmd"
)

func main() {
	if err := cmd.Root.Execute(); err != nil {
		os.Exit(1)
	}
}
