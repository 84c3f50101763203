package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/maastricht-university/prosody-stream/cmd"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := cmd.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "prosody:", err)
		os.Exit(1)
	}
}
