package cliapp

import (
	"fmt"
	"strings"

	"github.com/common-nighthawk/go-figure"
	"github.com/fatih/color"
)

// PrintBanner prints the kvbulk banner.
// nolint
func PrintBanner(backend, addr string) {
	defer func() {
		fmt.Println("")
	}()

	banner := figure.NewFigure("kvbulk", "small", true)
	bannerStr := banner.String()
	lines := strings.Split(bannerStr, "\n")

	maxWidth := 0
	for _, line := range lines {
		maxWidth = max(maxWidth, len(line))
	}

	color.New(color.FgCyan, color.Bold).Println(bannerStr)

	centerPrint("Partitioned. Batched. Pooled.", maxWidth, color.FgHiBlack)
	centerPrint(fmt.Sprintf("%s store on http://%s", backend, addr), maxWidth, color.FgHiBlack)
}

func centerPrint(text string, width int, attr color.Attribute) {
	padding := max((width-len(text))/2, 0)
	color.New(attr).Println(strings.Repeat(" ", padding) + text)
}
