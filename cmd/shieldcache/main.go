package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "shieldcache",
		Short:   "Caching reverse proxy for slow upstreams",
		Version: version,
	}

	root.AddCommand(
		newServeCmd(),
		newClearCacheCmd(),
		newDumpCmd(),
		newAnalyzeCacheCmd(),
		newConfigCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
