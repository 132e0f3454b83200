package main

import (
	"os"

	"github.com/noah-isme/gema-exam-grader/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.Options{}).Execute(); err != nil {
		os.Exit(1)
	}
}
