// Package format renders lambdeploy output for humans.
package format

import (
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	StageColor   = color.New(color.FgCyan, color.Bold)
	KindColor    = color.New(color.FgRed, color.Bold)
	CauseColor   = color.New(color.FgHiBlack)
	HintColor    = color.New(color.FgYellow, color.Italic)
	SuccessColor = color.New(color.FgGreen, color.Bold)
	WarnColor    = color.New(color.FgYellow, color.Bold)
)

// ConfigureColor enables color only for terminals, and never when NO_COLOR
// or LAMBDEPLOY_NO_COLOR is set or disable is true.
func ConfigureColor(out io.Writer, disable bool) {
	color.NoColor = !shouldColor(out, disable)
}

func shouldColor(out io.Writer, disable bool) bool {
	if disable {
		return false
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("LAMBDEPLOY_NO_COLOR"); ok {
		return false
	}
	if _, ok := os.LookupEnv("LAMBDEPLOY_FORCE_COLOR"); ok {
		return true
	}
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// TerminalWidth returns the width of out, or 80.
func TerminalWidth(out io.Writer) int {
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return 80
}

// StatusLabel colors a health or state word.
func StatusLabel(status string) string {
	switch status {
	case "healthy", "success", "Active", "Successful":
		return SuccessColor.Sprint(status)
	case "unknown", "Pending", "InProgress":
		return WarnColor.Sprint(status)
	case "unhealthy", "failed", "Failed", "Inactive":
		return KindColor.Sprint(status)
	default:
		return status
	}
}

// StatusSymbol returns a check mark or a cross.
func StatusSymbol(ok bool) string {
	if ok {
		return SuccessColor.Sprint("✓")
	}
	return KindColor.Sprint("✗")
}
