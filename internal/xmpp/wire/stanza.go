package wire

import (
	"encoding/xml"
	"strings"
)

// Namespaces of the stream setup exchange.
const (
	nsStream  = "http://etherx.jabber.org/streams"
	nsTLS     = "urn:ietf:params:xml:ns:xmpp-tls"
	nsSASL    = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind    = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession = "urn:ietf:params:xml:ns:xmpp-session"
)

type streamFeatures struct {
	XMLName  xml.Name `xml:"http://etherx.jabber.org/streams features"`
	StartTLS *struct {
		Required *struct{} `xml:"required"`
	} `xml:"urn:ietf:params:xml:ns:xmpp-tls starttls"`
	Mechanisms struct {
		Mechanism []string `xml:"mechanism"`
	} `xml:"urn:ietf:params:xml:ns:xmpp-sasl mechanisms"`
	Bind *struct{} `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
}

type tlsProceed struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-tls proceed"`
}

type saslSuccess struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-sasl success"`
}

type bindResult struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:xmpp-bind bind"`
	JID     string   `xml:"jid"`
}

// Message is an inbound message stanza, narrowed to the extensions the
// bridge reads: out-of-band URLs (XEP-0066), message correction
// (XEP-0308) and direct MUC invitations (XEP-0249).
type Message struct {
	XMLName xml.Name      `xml:"message"`
	ID      string        `xml:"id,attr"`
	From    string        `xml:"from,attr"`
	To      string        `xml:"to,attr"`
	Type    string        `xml:"type,attr"`
	Body    string        `xml:"body"`
	Error   *StanzaError  `xml:"error"`
	OOB     *OOB          `xml:"jabber:x:oob x"`
	Replace *Replace      `xml:"urn:xmpp:message-correct:0 replace"`
	Invite  *DirectInvite `xml:"jabber:x:conference x"`
}

// OOB is an XEP-0066 out-of-band data extension.
type OOB struct {
	URL string `xml:"url"`
}

// Replace is an XEP-0308 correction pointing at the replaced stanza.
type Replace struct {
	ID string `xml:"id,attr"`
}

// DirectInvite is an XEP-0249 direct MUC invitation. The reason attribute
// carries the handshake secret.
type DirectInvite struct {
	JID    string `xml:"jid,attr"`
	Reason string `xml:"reason,attr"`
}

// StanzaError is the error child of a message or presence stanza.
type StanzaError struct {
	Code string `xml:"code,attr"`
	Type string `xml:"type,attr"`
	Text string `xml:"urn:ietf:params:xml:ns:xmpp-stanzas text"`
}

// Presence is an inbound presence stanza with its MUC user extension.
type Presence struct {
	XMLName xml.Name     `xml:"presence"`
	From    string       `xml:"from,attr"`
	To      string       `xml:"to,attr"`
	Type    string       `xml:"type,attr"`
	MUCUser *MUCUser     `xml:"http://jabber.org/protocol/muc#user x"`
	Error   *StanzaError `xml:"error"`
}

// MUCUser is the XEP-0045 occupant extension of a presence.
type MUCUser struct {
	Status []MUCStatus `xml:"status"`
}

// MUCStatus is one status code; 110 marks the receiver's own occupant.
type MUCStatus struct {
	Code int `xml:"code,attr"`
}

// Self reports whether the presence describes the receiving occupant.
func (p *Presence) Self() bool {
	if p.MUCUser == nil {
		return false
	}
	for _, s := range p.MUCUser.Status {
		if s.Code == 110 {
			return true
		}
	}
	return false
}

// Kicked reports a self presence announcing forced removal from the room
// (MUC status 307 kick or 301 ban).
func (p *Presence) Kicked() bool {
	if p.Type != "unavailable" || !p.Self() {
		return false
	}
	for _, s := range p.MUCUser.Status {
		if s.Code == 307 || s.Code == 301 {
			return true
		}
	}
	return false
}

// IQ is an inbound info/query stanza. Payload holds the raw child XML for
// the caller to decode.
type IQ struct {
	XMLName xml.Name     `xml:"iq"`
	ID      string       `xml:"id,attr"`
	From    string       `xml:"from,attr"`
	Type    string       `xml:"type,attr"`
	Error   *StanzaError `xml:"error"`
	Payload []byte       `xml:",innerxml"`
}

// Bare strips the resource from a JID.
func Bare(jid string) string {
	if i := strings.Index(jid, "/"); i >= 0 {
		return jid[:i]
	}
	return jid
}

// Resource returns the resource part of a JID, the occupant nick for MUC
// addresses.
func Resource(jid string) string {
	if i := strings.Index(jid, "/"); i >= 0 {
		return jid[i+1:]
	}
	return ""
}

// Domain returns the host part of a JID.
func Domain(jid string) string {
	bare := Bare(jid)
	if i := strings.Index(bare, "@"); i >= 0 {
		return bare[i+1:]
	}
	return bare
}

func esc(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
