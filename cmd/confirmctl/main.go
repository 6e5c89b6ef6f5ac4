package main

import (
	"context"
	"fmt"
	"os"

	"github.com/email-confirmation-service/internal/cli"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := cli.NewRootCommand(&cli.RootOptions{}).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
