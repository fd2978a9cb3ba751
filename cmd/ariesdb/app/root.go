package app

import (
	"context"

	"github.com/Blackdeer1524/ariesdb/src/cli"
)

var rootCmd = cli.Init("ariesdb", "Write-ahead log and crash recovery playground")

func MustExecute(ctx context.Context) {
	initStart()
	initDump()
	initStress()
	rootCmd.MustExecute(ctx)
}
