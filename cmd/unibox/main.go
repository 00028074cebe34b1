package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pmelo/unibox/internal/app"
	"github.com/pmelo/unibox/internal/tui"
	"github.com/pmelo/unibox/internal/workspace"
	"go.uber.org/fx"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	flag.Parse()

	name := workspace.Resolve(*workspaceFlag)
	if err := workspace.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var ui *tui.App
	fxApp := fx.New(
		app.Module(app.Params{Workspace: name}),
		fx.Populate(&ui),
		// fx logs would corrupt the terminal the TUI draws on.
		fx.NopLogger,
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := fxApp.Start(startCtx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cancel()

	runErr := ui.Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
