package main

import "github.com/charmbracelet/lipgloss"

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED"))

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))

	// strategy colors in the plan table
	nativeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	delegatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	noneStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)
