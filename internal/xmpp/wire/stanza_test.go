package wire

import (
	"encoding/xml"
	"testing"
)

func TestDecodeMessage_Extensions(t *testing.T) {
	raw := `<message xmlns="jabber:client" id="m1" from="room@conf.example.org/Alice" type="groupchat">` +
		`<body>https://files.example.org/abc/cat.webp</body>` +
		`<x xmlns="jabber:x:oob"><url>https://files.example.org/abc/cat.webp</url></x>` +
		`</message>`
	var m Message
	if err := xml.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.ID != "m1" || m.Type != "groupchat" {
		t.Fatalf("unexpected attrs: %+v", m)
	}
	if m.OOB == nil || m.OOB.URL != "https://files.example.org/abc/cat.webp" {
		t.Fatalf("oob not decoded: %+v", m.OOB)
	}
	if m.Replace != nil || m.Invite != nil {
		t.Fatalf("unexpected extensions: %+v", m)
	}
}

func TestDecodeMessage_Correction(t *testing.T) {
	raw := `<message xmlns="jabber:client" id="m2" from="room@conf.example.org/Alice" type="groupchat">` +
		`<body>fixed</body><replace xmlns="urn:xmpp:message-correct:0" id="m1"/></message>`
	var m Message
	if err := xml.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Replace == nil || m.Replace.ID != "m1" {
		t.Fatalf("replace not decoded: %+v", m.Replace)
	}
}

func TestDecodeMessage_DirectInvite(t *testing.T) {
	raw := `<message xmlns="jabber:client" from="alice@example.org/phone">` +
		`<x xmlns="jabber:x:conference" jid="room@conf.example.org" reason="s3cr3t"/></message>`
	var m Message
	if err := xml.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Invite == nil || m.Invite.JID != "room@conf.example.org" || m.Invite.Reason != "s3cr3t" {
		t.Fatalf("invite not decoded: %+v", m.Invite)
	}
}

func TestDecodeMessage_Error(t *testing.T) {
	raw := `<message xmlns="jabber:client" from="room@conf.example.org" type="error">` +
		`<error type="cancel"><not-acceptable xmlns="urn:ietf:params:xml:ns:xmpp-stanzas"/>` +
		`<text xmlns="urn:ietf:params:xml:ns:xmpp-stanzas">Only occupants are allowed to send messages to the conference</text>` +
		`</error></message>`
	var m Message
	if err := xml.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Error == nil || m.Error.Text != "Only occupants are allowed to send messages to the conference" {
		t.Fatalf("error not decoded: %+v", m.Error)
	}
}

func TestPresence_Self(t *testing.T) {
	raw := `<presence xmlns="jabber:client" from="room@conf.example.org/Telegram Bridge">` +
		`<x xmlns="http://jabber.org/protocol/muc#user"><item affiliation="member" role="participant"/>` +
		`<status code="110"/></x></presence>`
	var p Presence
	if err := xml.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Self() {
		t.Fatal("expected self presence")
	}

	var other Presence
	raw = `<presence xmlns="jabber:client" from="room@conf.example.org/Alice">` +
		`<x xmlns="http://jabber.org/protocol/muc#user"><status code="100"/></x></presence>`
	if err := xml.Unmarshal([]byte(raw), &other); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if other.Self() {
		t.Fatal("status 100 must not read as self")
	}
}

func TestPresence_Kicked(t *testing.T) {
	raw := `<presence xmlns="jabber:client" type="unavailable" from="room@conf.example.org/Telegram Bridge">` +
		`<x xmlns="http://jabber.org/protocol/muc#user"><item affiliation="none" role="none"/>` +
		`<status code="110"/><status code="307"/></x></presence>`
	var p Presence
	if err := xml.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !p.Kicked() {
		t.Fatal("expected kick presence")
	}

	// A plain self leave is not a kick.
	raw = `<presence xmlns="jabber:client" type="unavailable" from="room@conf.example.org/Telegram Bridge">` +
		`<x xmlns="http://jabber.org/protocol/muc#user"><status code="110"/></x></presence>`
	var leave Presence
	if err := xml.Unmarshal([]byte(raw), &leave); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if leave.Kicked() {
		t.Fatal("voluntary leave must not read as kick")
	}
}

func TestJIDParts(t *testing.T) {
	if got := Bare("room@conf.example.org/Alice"); got != "room@conf.example.org" {
		t.Fatalf("bare: %q", got)
	}
	if got := Resource("room@conf.example.org/Alice"); got != "Alice" {
		t.Fatalf("resource: %q", got)
	}
	if got := Resource("room@conf.example.org"); got != "" {
		t.Fatalf("resource of bare jid: %q", got)
	}
	if got := Domain("bridge@example.org/res"); got != "example.org" {
		t.Fatalf("domain: %q", got)
	}
}

func TestEscape(t *testing.T) {
	if got := esc(`a<b>&"c"`); got != "a&lt;b&gt;&amp;&#34;c&#34;" {
		t.Fatalf("unexpected escape: %q", got)
	}
}
