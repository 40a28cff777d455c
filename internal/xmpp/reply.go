package xmpp

import (
	"strings"
	"time"
)

// mobileTimestampLayout matches the "2024-03-01  18:05 (GMT+0300)" marker
// some mobile clients append under the quoted sender's name.
const mobileTimestampLayout = "2006-01-02  15:04 (GMT-0700)"

// parseReply splits a message body into its prefix-quote block and the
// remaining text. Quote lines start with "> "; a bare ">" without a space
// and nested quotes ("> >") are ignored outright. When a quote line turns
// out to be a mobile-client timestamp marker, the preceding quote line is
// the sender-name header those clients prepend, so it is discarded too.
// Either part may come back empty.
func parseReply(text string) (reply, body string) {
	var replies, parts []string

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, ">") {
			if !strings.HasPrefix(line, "> ") {
				continue
			}
			if strings.HasPrefix(line, "> >") {
				continue
			}
			stripped := strings.TrimSpace(strings.ReplaceAll(line, "> ", ""))
			if _, err := time.Parse(mobileTimestampLayout, stripped); err == nil {
				if len(replies) > 0 {
					replies = replies[:len(replies)-1]
				}
				continue
			}
			replies = append(replies, stripped)
		} else {
			parts = append(parts, line)
		}
	}

	return strings.Join(replies, "\n"), strings.Join(parts, "\n")
}

// quoteReply renders a reply body as a prefix-quote block.
func quoteReply(reply string) string {
	return "> " + strings.ReplaceAll(reply, "\n", "\n> ")
}
