package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/revivarr/revivarr/cmd/revivarr"
	"github.com/revivarr/revivarr/internal/config"
	"github.com/revivarr/revivarr/pkg/version"
)

func main() {
	var (
		dataPath    string
		showVersion bool
	)
	flag.StringVar(&dataPath, "data", "", "path to the data folder")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo())
		return
	}
	if dataPath != "" {
		config.SetDataPath(dataPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := revivarr.Start(ctx); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "revivarr: %v\n", err)
		os.Exit(1)
	}
}
