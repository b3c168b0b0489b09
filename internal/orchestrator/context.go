package orchestrator

import (
	"fmt"
	"strings"

	"github.com/yuchenw/deepresearch/internal/domain"
)

// BuildTurnContext renders the session archive and prior turn digests into
// a planning preamble. It is a pure function over read-only inputs; an
// empty archive and no prior turns yield "".
func BuildTurnContext(archive string, prev []domain.TurnSummary) string {
	if archive == "" && len(prev) == 0 {
		return ""
	}

	var sb strings.Builder
	if archive != "" {
		sb.WriteString("Session so far: ")
		sb.WriteString(archive)
		sb.WriteString("\n")
	}

	if len(prev) > 0 {
		sb.WriteString("Previous questions:\n")
		for _, t := range prev {
			sb.WriteString("- ")
			sb.WriteString(t.Query)
			sb.WriteString("\n")
			for _, c := range t.TopFindings {
				sb.WriteString(fmt.Sprintf("  - %s (%.2f)\n", c.Text, c.Confidence))
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
