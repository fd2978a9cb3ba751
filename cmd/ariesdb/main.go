package main

import (
	"context"

	"github.com/Blackdeer1524/ariesdb/cmd/ariesdb/app"
)

func main() {
	app.MustExecute(context.Background())
}
