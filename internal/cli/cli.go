package cli

import (
	"fmt"
	"time"
)

// CLI provides Docker-style command line output
type CLI struct {
	quiet      bool
	phaseStart time.Time
	lastStepID string
}

// New creates a new CLI instance
func New(quiet bool) *CLI {
	return &CLI{quiet: quiet}
}

// StartPhase begins a new phase (like "Sending build context to Docker daemon")
func (c *CLI) StartPhase(name string) {
	if c.quiet {
		return
	}
	c.phaseStart = time.Now()
	fmt.Println()
	fmt.Printf("Sending context to %s...\n", name)
}

// EndPhase ends the current phase
func (c *CLI) EndPhase() time.Duration {
	duration := time.Since(c.phaseStart)
	if !c.quiet {
		fmt.Printf("Successfully completed in %s\n", formatDuration(duration))
	}
	return duration
}

// Step prints a step in Docker style: "Step N/M : description"
func (c *CLI) Step(current, total int, description string) {
	if c.quiet {
		return
	}
	c.lastStepID = fmt.Sprintf("%d/%d", current, total)
	fmt.Printf("Step %d/%d : %s\n", current, total, description)
}

// Running prints a " ---> Running in [id]" line (Docker style)
func (c *CLI) Running(message string) {
	if c.quiet {
		return
	}
	id := generateShortID()
	fmt.Printf(" ---> Running in %s\n", id)
	fmt.Printf("      %s\n", message)
}

// Info prints a " ---> message" line
func (c *CLI) Info(message string) {
	if c.quiet {
		return
	}
	fmt.Printf(" ---> %s\n", message)
}

// Success prints a " ---> message" line (same format as Info)
func (c *CLI) Success(message string) {
	if c.quiet {
		return
	}
	fmt.Printf(" ---> %s\n", message)
}

// Done prints completion of a step with a fake hash (Docker style)
func (c *CLI) Done() {
	if c.quiet {
		return
	}
	fmt.Printf(" ---> %s\n", generateShortID())
}

// Error prints an error message
func (c *CLI) Error(message string) {
	fmt.Printf("ERROR: %s\n", message)
}

// Warning prints a warning message
func (c *CLI) Warning(message string) {
	if c.quiet {
		return
	}
	fmt.Printf(" ---> [WARNING] %s\n", message)
}

// Summary prints a final summary (Docker "Successfully built" + "Successfully tagged")
func (c *CLI) Summary(title string, items map[string]string) {
	if c.quiet {
		return
	}

	fmt.Println()
	fmt.Printf("Successfully completed: %s\n", title)

	// Print items on separate lines
	for k, v := range items {
		fmt.Printf(" - %s: %s\n", k, v)
	}
}

// generateShortID generates a fake Docker-style short ID
func generateShortID() string {
	// Use current time to generate a pseudo-random looking ID
	t := time.Now().UnixNano()
	chars := "0123456789abcdef"
	result := make([]byte, 12)
	for i := range result {
		result[i] = chars[(t>>(i*4))&0xf]
	}
	return string(result)
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
