// Imgrouter is an OpenAI-compatible image-generation gateway that routes
// requests across multiple upstream image providers, either relaying the
// caller's own credential or dispatching through a weighted backend pool.
package main

import (
	"flag"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "data/runtime.json", "path to the runtime document")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("imgrouter", version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
