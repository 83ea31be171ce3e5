// Package override turns human comments into machine directives. Operators
// steer automation by commenting on an issue: the first non-empty line of a
// non-bot comment is matched against a small directive grammar, and the
// resulting override is persisted per issue.
package override

import (
	"regexp"
	"strings"

	"github.com/codeready-toolchain/governor/pkg/models"
)

// Parsed is one recognized directive with its arguments.
type Parsed struct {
	Directive models.Directive
	// Reason accompanies hold, preserving the author's casing.
	Reason string
	// Priority accompanies the priority directive.
	Priority models.PriorityLevel
	// CommentID and CreatedAt locate the comment that carried the directive.
	CommentID string
	CreatedAt int64
}

var (
	skipQAPattern   = regexp.MustCompile(`^skip\s*-?\s*qa$`)
	priorityPattern = regexp.MustCompile(`^priority\s*:\s*(\S+)$`)
)

// holdDashes are the separators accepted between HOLD and its reason.
var holdDashes = []string{"-", "–", "—"}

// ParseComment extracts a directive from a comment, or returns nil when the
// comment carries none. Bot comments never carry directives. Matching is
// case-insensitive and looks only at the first non-empty line; a token with
// a malformed argument (an unknown priority level, a hold reason without a
// dash) yields nil rather than a partial directive.
func ParseComment(c models.Comment) *Parsed {
	if c.IsBot {
		return nil
	}
	line := firstNonEmptyLine(c.Body)
	if line == "" {
		return nil
	}
	lower := strings.ToLower(line)

	parsed := &Parsed{CommentID: c.ID, CreatedAt: c.CreatedAt}
	switch {
	case lower == "resume":
		parsed.Directive = models.DirectiveResume
	case lower == "decompose":
		parsed.Directive = models.DirectiveDecompose
	case lower == "reassign":
		parsed.Directive = models.DirectiveReassign
	case skipQAPattern.MatchString(lower):
		parsed.Directive = models.DirectiveSkipQA
	case lower == "hold":
		parsed.Directive = models.DirectiveHold
	case strings.HasPrefix(lower, "hold"):
		rest := strings.TrimSpace(line[len("hold"):])
		reason, ok := trimHoldDash(rest)
		if !ok {
			return nil
		}
		parsed.Directive = models.DirectiveHold
		parsed.Reason = reason
	case strings.HasPrefix(lower, "priority"):
		m := priorityPattern.FindStringSubmatch(lower)
		if m == nil {
			return nil
		}
		level := models.PriorityLevel(m[1])
		if !level.IsValid() {
			return nil
		}
		parsed.Directive = models.DirectivePriority
		parsed.Priority = level
	default:
		return nil
	}
	return parsed
}

// trimHoldDash strips the leading dash variant from a hold reason. Without a
// dash the trailing text is not a reason and the whole line is rejected.
func trimHoldDash(rest string) (string, bool) {
	for _, dash := range holdDashes {
		if strings.HasPrefix(rest, dash) {
			return strings.TrimSpace(strings.TrimPrefix(rest, dash)), true
		}
	}
	return "", false
}

func firstNonEmptyLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// FindLatest parses every comment and returns the newest directive, or nil
// when none parse. Equal timestamps fall back to the larger comment ID so
// the result is deterministic.
func FindLatest(comments []models.Comment) *Parsed {
	var latest *Parsed
	for _, c := range comments {
		parsed := ParseComment(c)
		if parsed == nil {
			continue
		}
		if latest == nil ||
			parsed.CreatedAt > latest.CreatedAt ||
			(parsed.CreatedAt == latest.CreatedAt && parsed.CommentID > latest.CommentID) {
			latest = parsed
		}
	}
	return latest
}
