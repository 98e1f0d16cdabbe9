package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	clockStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	clockWarnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	clockUrgentStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("9")).
				Blink(true)

	questionStyle = lipgloss.NewStyle().
			Padding(1, 2)

	optionStyle = lipgloss.NewStyle().
			Padding(0, 4)

	selectedOptionStyle = lipgloss.NewStyle().
				Padding(0, 4).
				Bold(true).
				Foreground(lipgloss.Color("14"))

	cursorOptionStyle = lipgloss.NewStyle().
				Padding(0, 2).
				Foreground(lipgloss.Color("212"))

	statusStyle = lipgloss.NewStyle().
			Faint(true).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("9")).
			Padding(0, 1)

	dialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(1, 3)

	resultStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			Padding(1, 4).
			Bold(true)

	answeredMarkStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))
)
