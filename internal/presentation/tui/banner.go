package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the Sentinel ASCII art banner with the running
// version underneath.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	// Using a subtle gradient-like color scheme (Indigo/Violet)
	s1 := termenv.String("  _____            _   _            _ ").Foreground(p.Color("#818cf8"))
	s2 := termenv.String(" / ____|          | | (_)          | |").Foreground(p.Color("#a78bfa"))
	s3 := termenv.String("| (___   ___ _ __ | |_ _ _ __   ___| |").Foreground(p.Color("#c084fc"))
	s4 := termenv.String(" \\___ \\ / _ \\ '_ \\| __| | '_ \\ / _ \\ |").Foreground(p.Color("#e879f9"))
	s5 := termenv.String(" ____) |  __/ | | | |_| | | | |  __/ |").Foreground(p.Color("#f472b6"))
	s6 := termenv.String("|_____/ \\___|_| |_|\\__|_|_| |_|\\___|_|").Foreground(p.Color("#fb7185"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5)
	fmt.Println(s6)
	if version != "" {
		fmt.Println(termenv.String("  v" + version).Foreground(p.Color("#6b7280")).Faint())
	}
	fmt.Println()
}
