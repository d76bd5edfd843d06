package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/ggonzalez94/defi-advisor/internal/app"
)

func main() {
	_ = godotenv.Load()
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
