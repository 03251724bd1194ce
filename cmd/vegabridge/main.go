// Command vegabridge serves live-updating chart widgets to browser views.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information - set via ldflags during build
var (
	version   = "0.1.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	handled, code := dispatchSubcommand(os.Args[1:])
	if !handled {
		printHelp()
		os.Exit(exitCodeFailure)
	}
	os.Exit(code)
}

func dispatchSubcommand(args []string) (bool, int) {
	if len(args) == 0 {
		return false, 0
	}
	switch args[0] {
	case "--version", "-v", "version":
		printVersion()
		return true, 0
	case "--help", "-h", "help":
		printHelp()
		return true, 0
	case "serve":
		return true, runCommand(runServeCommand, args[1:])
	case "push":
		return true, runCommand(runPushCommand, args[1:])
	case "show":
		return true, runCommand(runShowCommand, args[1:])
	default:
		if strings.HasPrefix(args[0], "-") {
			fmt.Fprintf(os.Stderr, "Error: unknown flag %q\n", args[0])
			return true, exitCodeFailure
		}
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", args[0])
		return true, exitCodeFailure
	}
}

func runCommand(handler func([]string) error, args []string) int {
	if err := handler(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeForError(err)
	}
	return 0
}

func printHelp() {
	fmt.Println("vegabridge - live chart widgets over HTTP and websockets")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  vegabridge <command> [flags]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  serve [--bind host:port] [--config path]")
	fmt.Println("                                   Serve widgets and their views")
	fmt.Println("  push create --file doc.json      Create a widget from {spec, opt}")
	fmt.Println("  push spec|opt --widget ID --file doc.json")
	fmt.Println("                                   Replace a widget's spec or embedding options")
	fmt.Println("  push update|dataframe|histogram2d --widget ID --file body.json")
	fmt.Println("                                   Stream data into a widget")
	fmt.Println("  show [--db path] [--widget ID] [--format json|toon]")
	fmt.Println("                                   Print stored widgets")
	fmt.Println("  version                          Print version information")
	fmt.Println()
	fmt.Println("Configuration is read from ~/.vegabridge/config.yaml, ./.vegabridge/config.yaml")
	fmt.Println("and VEGABRIDGE_* environment variables.")
}

func printVersion() {
	fmt.Printf("vegabridge %s\n", version)
	if commit != "unknown" {
		fmt.Printf("  Commit:     %s\n", commit)
	}
	if buildDate != "unknown" {
		fmt.Printf("  Built:      %s\n", buildDate)
	}
	fmt.Printf("  Go version: %s\n", runtime.Version())
}
