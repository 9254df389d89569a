package main

import "github.com/charmbracelet/lipgloss"

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	dimColor    = lipgloss.AdaptiveColor{Light: "#A49FA5", Dark: "#777777"}

	pathStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	messageStyle = lipgloss.NewStyle().
			Foreground(dimColor)
)
