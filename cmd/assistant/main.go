package main

import (
	"os"

	"bc-assistant/core/internal/app"
)

func main() {
	os.Exit(app.Run())
}
