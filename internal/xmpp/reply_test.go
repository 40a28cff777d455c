package xmpp

import "testing"

func TestParseReply(t *testing.T) {
	cases := []struct {
		name  string
		text  string
		reply string
		body  string
	}{
		{
			name: "plain message",
			text: "hello there",
			body: "hello there",
		},
		{
			name:  "single quote line",
			text:  "> original\nmy answer",
			reply: "original",
			body:  "my answer",
		},
		{
			name:  "multiline quote",
			text:  "> line one\n> line two\nanswer",
			reply: "line one\nline two",
			body:  "answer",
		},
		{
			name: "bare angle bracket is not a quote",
			text: ">nospace\nbody",
			body: "body",
		},
		{
			name:  "nested quotes are skipped",
			text:  "> >nested\n> line1\nbody",
			reply: "line1",
			body:  "body",
		},
		{
			name:  "mobile timestamp pops the sender header",
			text:  "> Alice\n> 2024-03-01  18:05 (GMT+0300)\n> quoted text\nanswer",
			reply: "quoted text",
			body:  "answer",
		},
		{
			name: "timestamp with no preceding line",
			text: "> 2024-03-01  18:05 (GMT+0300)\nanswer",
			body: "answer",
		},
		{
			name:  "quote only",
			text:  "> just a quote",
			reply: "just a quote",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply, body := parseReply(tc.text)
			if reply != tc.reply {
				t.Fatalf("reply = %q, want %q", reply, tc.reply)
			}
			if body != tc.body {
				t.Fatalf("body = %q, want %q", body, tc.body)
			}
		})
	}
}

func TestQuoteReply(t *testing.T) {
	if got := quoteReply("one\ntwo"); got != "> one\n> two" {
		t.Fatalf("unexpected quote: %q", got)
	}
}
