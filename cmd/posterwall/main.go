package main

import (
	"context"
	"fmt"
	"os"

	"github.com/posterwall/backend/internal/app"
	"github.com/posterwall/backend/internal/logging"
)

func main() {
	ctx := context.Background()
	if err := app.Run(ctx, os.Args[1:]); err != nil {
		logging.Default().Error().Err(err).Strs("args", os.Args[1:]).Msg("posterwall exited with error")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
