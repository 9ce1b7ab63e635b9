// extractctl runs the extraction analytics models from the command line.
//
// Usage:
//
//	extractctl metrics --d9 84.7 --d8 3.4 --cbn 1.9
//	extractctl predict --temp -60 --time 20 [--models-dir ./artifacts]
//	extractctl optimize
//	extractctl degrade --thc 85 --condition "Room Temp (20°C)" --months 12
//	extractctl shelf-life --thc 85 --threshold 0.9
//	extractctl storage --target 12
//	extractctl grade --d9 84.7 --cbn 1.9
//	extractctl compliance --category hemp --ratio 25 --total-thc 0.2
//	extractctl coa --batch B-2025-001
//	extractctl train --xlsx doe.xlsx --out ./artifacts
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
