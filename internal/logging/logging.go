// Package logging is the agent's console logging shim: leveled,
// colorized, and toggled by a single package-level Verbose flag.
package logging

import (
	"fmt"

	"github.com/fatih/color"
)

// Verbose gates Verboseln/Verbosef output. Set once at startup from
// configuration; read from the single-threaded agent context only.
var Verbose bool

// Infoln prints an informational line in green, always (register/connect
// milestones the operator wants to see regardless of verbosity).
func Infoln(a ...interface{}) {
	color.Green("%v", fmt.Sprint(a...))
}

// Warnln prints a recoverable-problem line in yellow, always.
func Warnln(a ...interface{}) {
	color.Yellow("%v", fmt.Sprint(a...))
}

// Errorln prints a serious-but-non-fatal problem in red, always.
func Errorln(a ...interface{}) {
	color.Red("%v", fmt.Sprint(a...))
}

// Verboseln prints only when Verbose is set.
func Verboseln(a ...interface{}) {
	if Verbose {
		fmt.Println(a...)
	}
}

// Verbosef prints a formatted message only when Verbose is set.
func Verbosef(format string, a ...interface{}) {
	if Verbose {
		fmt.Printf(format, a...)
	}
}
