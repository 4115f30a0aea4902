package application

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ericfisherdev/hookrelay/internal/domain/model"
)

const (
	// MaxSummaryBytes is the GitHub limit for a check run output summary.
	MaxSummaryBytes = 65535
	// maxLogExcerptBytes caps the log tail shown for a single failed run.
	maxLogExcerptBytes = 4096
)

// FormatSummary renders the markdown summary of an aggregate check. The
// result never exceeds MaxSummaryBytes.
func FormatSummary(status model.RunStatus, conclusion model.Conclusion, runs []model.WorkflowRun) string {
	return formatSummary(status, conclusion, runs, MaxSummaryBytes)
}

func formatSummary(status model.RunStatus, conclusion model.Conclusion, runs []model.WorkflowRun, limit int) string {
	var b strings.Builder
	b.WriteString(summaryHeader(status, conclusion, len(runs)))

	for i, run := range runs {
		entry := formatEntry(run)

		// Reserve room for a truncation marker while later entries remain.
		reserve := 0
		if remaining := len(runs) - i - 1; remaining > 0 {
			reserve = len(truncationMarker(remaining))
		}
		if b.Len()+len(entry)+reserve <= limit {
			b.WriteString(entry)
			continue
		}

		marker := truncationMarker(len(runs) - i)
		if budget := limit - len(marker) - len(blockClosers) - b.Len(); budget > 0 {
			partial := truncateUTF8(entry, budget)
			b.WriteString(partial)
			b.WriteString(closeOpenBlocks(partial))
		}
		b.WriteString(marker)
		break
	}

	return truncateUTF8(b.String(), limit)
}

func summaryHeader(status model.RunStatus, conclusion model.Conclusion, n int) string {
	if n == 0 {
		return "No pipelines were triggered.\n"
	}
	if status == model.RunStatusCompleted {
		return fmt.Sprintf("**%d pipeline(s)**: %s\n", n, conclusion)
	}
	return fmt.Sprintf("**%d pipeline(s)**: %s\n", n, status)
}

func truncationMarker(omitted int) string {
	return fmt.Sprintf("\n\n_Summary truncated: %d pipeline(s) not fully shown._\n", omitted)
}

// blockClosers is the longest suffix closeOpenBlocks returns.
const blockClosers = "\n```\n</details>\n"

// closeOpenBlocks returns what a cut entry needs so that a code fence or
// details block it opened does not swallow the markdown that follows.
func closeOpenBlocks(partial string) string {
	var b strings.Builder
	if strings.Count(partial, "```")%2 == 1 {
		if !strings.HasSuffix(partial, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("```\n")
	}
	if strings.Count(partial, "<details>") > strings.Count(partial, "</details>") {
		b.WriteString("</details>\n")
	}
	return b.String()
}

func formatEntry(run model.WorkflowRun) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n### %s %s\n", statusIcon(run), run.PipelineRunName)
	fmt.Fprintf(&b, "- Status: `%s`\n", run.Status)
	if c := run.ConclusionValue(); c != "" {
		fmt.Fprintf(&b, "- Conclusion: `%s`\n", c)
	}
	if run.WorkflowRunURL != nil && *run.WorkflowRunURL != "" {
		fmt.Fprintf(&b, "- Run: %s\n", *run.WorkflowRunURL)
	}
	if msg := run.ErrorValue(); msg != "" {
		fmt.Fprintf(&b, "- Error: %s\n", msg)
	}
	if run.Logs != "" {
		excerpt := tailUTF8(strings.ToValidUTF8(run.Logs, "�"), maxLogExcerptBytes)
		b.WriteString("\n<details><summary>Log excerpt</summary>\n\n```text\n")
		b.WriteString(excerpt)
		if !strings.HasSuffix(excerpt, "\n") {
			b.WriteByte('\n')
		}
		b.WriteString("```\n</details>\n")
	}

	return b.String()
}

func statusIcon(run model.WorkflowRun) string {
	if !run.IsCompleted() {
		return "⏳"
	}
	switch run.ConclusionValue() {
	case model.ConclusionSuccess:
		return "✅"
	case model.ConclusionSkipped, model.ConclusionNeutral:
		return "⚪"
	default:
		return "❌"
	}
}

// truncateUTF8 returns the longest prefix of s that is at most n bytes and
// does not split a code point.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// tailUTF8 returns the longest suffix of s that is at most n bytes and does
// not start inside a code point.
func tailUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
