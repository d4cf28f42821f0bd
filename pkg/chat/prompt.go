package chat

import (
	"fmt"
	"strings"
	"time"
)

// PromptOptions selects what the synthesized system prompt describes.
type PromptOptions struct {
	AgentMode      bool     // filesystem and planning tools are available
	ForceAgentMode bool     // append the plan/execute/summarize contract
	WebSearch      bool     // web search is enabled
	ExtraTools     []string // names of additionally attached tools
}

const forcedAgentContract = `## Required output format
You are running in agent mode. Every response must follow these three phases:
1. Plan: record a numbered plan with write_todos before doing any work.
2. Execute: work through the plan with tools, marking each todo completed as soon as it is done.
3. Summary: end with a "## Summary" section stating what was done, what was found and where any files were written.
Do not skip the plan, even for short tasks.`

// DateLine states the current date, time and timezone.
func DateLine(now time.Time) string {
	zone, _ := now.Zone()
	return fmt.Sprintf("Current date and time: %s (%s, %s).",
		now.Format("Monday, January 2, 2006 15:04"), now.Location(), zone)
}

// SystemPrompt returns the system prompt for a run. A caller-supplied prompt only gets
// the date line prepended; otherwise one is synthesized from opts.
func SystemPrompt(now time.Time, custom string, opts PromptOptions) string {
	if strings.TrimSpace(custom) != "" {
		return DateLine(now) + "\n\n" + custom
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. ")
	sb.WriteString(DateLine(now))
	sb.WriteString("\n\n")
	sb.WriteString("Answer simple questions directly and concisely, without tools or planning. ")
	sb.WriteString("For complex, multi-step or parallelizable requests, first break the work into a todo list")
	if opts.AgentMode || opts.ForceAgentMode {
		sb.WriteString(" with write_todos, keep it updated as you go, and delegate independent subtasks with the task tool when that helps")
	}
	sb.WriteString(".\n")

	var categories []string
	if opts.AgentMode || opts.ForceAgentMode {
		categories = append(categories,
			"- Filesystem: ls, read_file, write_file, edit_file, delete_file, glob, grep. Files under /memories/ persist across runs; everything else is scratch space for this run.")
	}
	if opts.WebSearch {
		categories = append(categories, "- Web search: look up current information and cite the sources you used.")
	}
	if len(opts.ExtraTools) > 0 {
		categories = append(categories, "- Additional tools: "+strings.Join(opts.ExtraTools, ", ")+".")
	}
	if len(categories) > 0 {
		sb.WriteString("\nAvailable tools:\n")
		sb.WriteString(strings.Join(categories, "\n"))
		sb.WriteString("\n")
	}

	if opts.ForceAgentMode {
		sb.WriteString("\n")
		sb.WriteString(forcedAgentContract)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
