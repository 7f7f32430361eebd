package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/tcfs-dev/tcfs/internal/cas"
)

func main() {
	dbPath := flag.String("db", "tcfs-cas.db", "Path to the embedded Bolt CAS database")
	prefix := flag.String("prefix", "tcfs", "CAS namespace prefix to sweep")
	flag.Parse()

	store, err := cas.OpenBoltStore(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open cas:", err)
		os.Exit(1)
	}
	defer store.Close()

	result, err := cas.Sweep(context.Background(), store, *prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sweep:", err)
		os.Exit(1)
	}

	fmt.Printf("scanned %d chunks, %d referenced, removed %d orphans\n",
		result.ChunksScanned, result.Referenced, result.ChunksDeleted)
}
