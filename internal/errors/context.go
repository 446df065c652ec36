package errors

import (
	"fmt"
	"strings"
)

// Context provides rich error information; BuildError.UserMessage
// appends its formatted form whenever a context is attached.
type Context struct {
	Operation   string
	Component   string
	Details     map[string]any
	Recoverable bool
	RetryCount  int
	MaxRetries  int
}

// Format returns a formatted string representation of the context.
func (c *Context) Format() string {
	var sb strings.Builder

	switch {
	case c.Operation != "" && c.Component != "":
		sb.WriteString(fmt.Sprintf("\nWhat happened:\n  %s failed in %s.\n", c.Operation, c.Component))
	case c.Operation != "":
		sb.WriteString(fmt.Sprintf("\nWhat happened:\n  %s failed.\n", c.Operation))
	case c.Component != "":
		sb.WriteString(fmt.Sprintf("\nWhat happened:\n  Failure in %s.\n", c.Component))
	}

	if len(c.Details) > 0 {
		sb.WriteString("\nDetails:\n")
		for key, value := range c.Details {
			sb.WriteString(fmt.Sprintf("  - %s: %v\n", key, value))
		}
	}

	if c.Recoverable {
		sb.WriteString(fmt.Sprintf("\nRetryable: yes (attempt %d/%d)\n", c.RetryCount, c.MaxRetries))
	}

	return sb.String()
}
