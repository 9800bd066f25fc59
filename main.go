package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cec-lip/lipd/cmd"
	"github.com/cec-lip/lipd/internal/config"
	"github.com/cec-lip/lipd/internal/sdk"
	"github.com/USA-RedDragon/configulator"
)

func main() {
	os.Exit(run())
}

// run builds the configulator-backed context the cobra command tree
// expects (every RunE pulls its config back out with
// configulator.FromContext) and executes it.
func run() int {
	c := configulator.New[config.Config]()
	ctx := configulator.NewContext(context.Background(), c)

	rootCmd := cmd.NewCommand(sdk.Version, sdk.GitCommit)
	rootCmd.SetContext(ctx)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
