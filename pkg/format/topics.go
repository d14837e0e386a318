package format

import (
	"fmt"
	"strings"
)

// Topic is one labelled topic with its position in the media, in seconds.
type Topic struct {
	Label   string
	Seconds float64
}

// Topic list rendering styles.
const (
	TopicsNumbered = "numbered"
	TopicsBullet   = "bullet"
	TopicsDash     = "dash"
	TopicsComma    = "comma"
	TopicsInline   = "inline"
)

// Topics renders a topic list in the given style. Line styles (numbered,
// bullet, dash) put one topic per line; comma and inline join on a single
// line. Unknown styles fall back to numbered. With timestamps enabled,
// line styles prefix each topic with its position and the single-line
// styles append it in parentheses.
//
//	Topics(list, "numbered", true) =>
//	  1. [00:00] Welcome
//	  2. [12:34] Roadmap
func Topics(topics []Topic, style string, withTimestamps bool) string {
	if len(topics) == 0 {
		return ""
	}

	switch style {
	case TopicsComma, TopicsInline:
		sep := ", "
		if style == TopicsInline {
			sep = " | "
		}
		parts := make([]string, len(topics))
		for i, t := range topics {
			parts[i] = t.Label
			if withTimestamps {
				parts[i] = fmt.Sprintf("%s (%s)", t.Label, Timestamp(t.Seconds))
			}
		}
		return strings.Join(parts, sep)
	}

	prefix := func(i int) string {
		switch style {
		case TopicsBullet:
			return "• "
		case TopicsDash:
			return "- "
		default:
			return fmt.Sprintf("%d. ", i+1)
		}
	}

	var b strings.Builder
	for i, t := range topics {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(prefix(i))
		if withTimestamps {
			b.WriteString("[" + Timestamp(t.Seconds) + "] ")
		}
		b.WriteString(t.Label)
	}
	return b.String()
}

// Timestamp formats a position in seconds as MM:SS, or H:MM:SS once the
// position passes an hour.
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// DurationSeconds formats a duration given in seconds compactly:
// "45s", "12m", "1h05m".
func DurationSeconds(seconds int) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm", seconds/60)
	}
	return fmt.Sprintf("%dh%02dm", seconds/3600, (seconds%3600)/60)
}
