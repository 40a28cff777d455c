// Package wire is a minimal XMPP client layer: stream setup with STARTTLS
// and SASL PLAIN, resource binding, stanza decoding, MUC presence, HTTP
// upload slots (XEP-0363) and pings (XEP-0199). It covers exactly what the
// bridge speaks and nothing more.
package wire

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	handshakeTimeout = 30 * time.Second
	iqTimeout        = 10 * time.Second
	joinTimeout      = 10 * time.Second
)

// Session is one authenticated XMPP connection. Inbound messages are
// delivered on the Messages channel; presences and IQ results are consumed
// internally for join and round-trip correlation.
type Session struct {
	jid      string // full JID after bind
	domain   string
	out      io.Writer

	conn net.Conn
	dec  *xml.Decoder

	writeMu sync.Mutex

	mu        sync.Mutex
	iqWaiters map[string]chan *IQ
	joinWait  map[string]chan *Presence
	uploadSvc string
	err       error

	messages  chan *Message
	kicks     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// Opts holds parameters for dialing a Session.
type Opts struct {
	JID      string // bare login JID, user@domain
	Password string
	Resource string // empty lets the server assign one

	// Server overrides the host:port derived from the JID domain.
	Server string
	Out    io.Writer // defaults to os.Stdout
}

// Dial connects, negotiates STARTTLS and SASL PLAIN, binds the resource,
// fetches the roster and announces presence. The returned session is
// serving: its read loop is running.
func Dial(ctx context.Context, opts Opts) (*Session, error) {
	domain := Domain(opts.JID)
	if domain == "" || domain == opts.JID {
		return nil, fmt.Errorf("wire: malformed jid %q", opts.JID)
	}
	addr := opts.Server
	if addr == "" {
		addr = net.JoinHostPort(domain, "5222")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	dialer := net.Dialer{Timeout: handshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}

	s := &Session{
		domain:    domain,
		out:       out,
		conn:      conn,
		iqWaiters: make(map[string]chan *IQ),
		joinWait:  make(map[string]chan *Presence),
		messages:  make(chan *Message, 64),
		kicks:     make(chan string, 8),
		done:      make(chan struct{}),
	}
	if err := s.handshake(opts); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop()

	if err := s.requestRoster(ctx); err != nil {
		log.Printf("wire: %s: roster fetch: %v", s.jid, err)
	}
	if err := s.send("<presence/>"); err != nil {
		s.Close()
		return nil, fmt.Errorf("wire: announce presence: %w", err)
	}
	fmt.Fprintf(s.out, "wire: session started as %s\n", s.jid)
	return s, nil
}

func (s *Session) handshake(opts Opts) error {
	s.conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	s.dec = xml.NewDecoder(s.conn)
	if err := s.openStream(); err != nil {
		return err
	}
	features, err := s.readFeatures()
	if err != nil {
		return err
	}

	if features.StartTLS != nil {
		if err := s.startTLS(); err != nil {
			return err
		}
		if features, err = s.readFeatures(); err != nil {
			return err
		}
	}

	if err := s.authenticate(opts, features); err != nil {
		return err
	}
	if features, err = s.readFeatures(); err != nil {
		return err
	}
	if features.Bind == nil {
		return fmt.Errorf("wire: server offers no resource binding")
	}
	return s.bind(opts.Resource)
}

func (s *Session) openStream() error {
	err := s.send(
		"<?xml version='1.0'?><stream:stream to='%s' xmlns='jabber:client' xmlns:stream='%s' version='1.0'>",
		esc(s.domain), nsStream,
	)
	if err != nil {
		return err
	}
	// Skip tokens until the server's stream open element.
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return fmt.Errorf("wire: read stream open: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Space == nsStream && se.Name.Local == "stream" {
				return nil
			}
			return fmt.Errorf("wire: unexpected stream element <%s>", se.Name.Local)
		}
	}
}

func (s *Session) readFeatures() (*streamFeatures, error) {
	se, err := s.nextStart()
	if err != nil {
		return nil, err
	}
	var f streamFeatures
	if err := s.dec.DecodeElement(&f, &se); err != nil {
		return nil, fmt.Errorf("wire: decode stream features: %w", err)
	}
	return &f, nil
}

func (s *Session) startTLS() error {
	if err := s.send("<starttls xmlns='%s'/>", nsTLS); err != nil {
		return err
	}
	se, err := s.nextStart()
	if err != nil {
		return err
	}
	var proceed tlsProceed
	if err := s.dec.DecodeElement(&proceed, &se); err != nil {
		return fmt.Errorf("wire: server refused starttls: %w", err)
	}

	tlsConn := tlsClient(s.conn, s.domain)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("wire: tls handshake: %w", err)
	}
	s.conn = tlsConn
	s.dec = xml.NewDecoder(s.conn)
	if err := s.openStream(); err != nil {
		return err
	}
	return nil
}

func (s *Session) authenticate(opts Opts, features *streamFeatures) error {
	supported := false
	for _, m := range features.Mechanisms.Mechanism {
		if m == "PLAIN" {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("wire: server offers no PLAIN mechanism")
	}

	local := opts.JID[:len(opts.JID)-len(s.domain)-1]
	raw := "\x00" + local + "\x00" + opts.Password
	payload := base64.StdEncoding.EncodeToString([]byte(raw))
	if err := s.send("<auth xmlns='%s' mechanism='PLAIN'>%s</auth>", nsSASL, payload); err != nil {
		return err
	}

	se, err := s.nextStart()
	if err != nil {
		return err
	}
	if se.Name.Space == nsSASL && se.Name.Local == "failure" {
		s.dec.Skip()
		return fmt.Errorf("wire: authentication failed for %s", opts.JID)
	}
	var success saslSuccess
	if err := s.dec.DecodeElement(&success, &se); err != nil {
		return fmt.Errorf("wire: decode sasl response: %w", err)
	}

	s.dec = xml.NewDecoder(s.conn)
	return s.openStream()
}

func (s *Session) bind(resource string) error {
	res := ""
	if resource != "" {
		res = "<resource>" + esc(resource) + "</resource>"
	}
	err := s.send("<iq id='%s' type='set'><bind xmlns='%s'>%s</bind></iq>",
		uuid.NewString(), nsBind, res)
	if err != nil {
		return err
	}

	se, err := s.nextStart()
	if err != nil {
		return err
	}
	var iq IQ
	if err := s.dec.DecodeElement(&iq, &se); err != nil {
		return fmt.Errorf("wire: decode bind result: %w", err)
	}
	if iq.Type != "result" {
		return fmt.Errorf("wire: bind rejected: %s", iq.Type)
	}
	var bound bindResult
	if err := xml.Unmarshal(iq.Payload, &bound); err != nil {
		return fmt.Errorf("wire: decode bound jid: %w", err)
	}
	s.jid = bound.JID

	// Legacy session establishment; servers that dropped it still answer.
	err = s.send("<iq id='%s' type='set'><session xmlns='%s'/></iq>", uuid.NewString(), nsSession)
	if err != nil {
		return err
	}
	if se, err = s.nextStart(); err != nil {
		return err
	}
	var sessIQ IQ
	if err := s.dec.DecodeElement(&sessIQ, &se); err != nil {
		return fmt.Errorf("wire: decode session result: %w", err)
	}
	return nil
}

func (s *Session) nextStart() (xml.StartElement, error) {
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return xml.StartElement{}, fmt.Errorf("wire: read stream: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// JID returns the full JID assigned at bind time.
func (s *Session) JID() string { return s.jid }

func (s *Session) send(format string, args ...any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := fmt.Fprintf(s.conn, format, args...); err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

// Messages returns the inbound message stream. The channel is never
// closed; readers should select on Done as well.
func (s *Session) Messages() <-chan *Message { return s.messages }

// Kicks delivers the bare JID of a room the session was forcibly removed
// from. Same consumer contract as Messages.
func (s *Session) Kicks() <-chan string { return s.kicks }

// Done is closed when the session stops serving.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session stopped.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the connection down.
func (s *Session) Close() error {
	s.fail(fmt.Errorf("wire: session closed"))
	return nil
}

func (s *Session) fail(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.conn.Close()
		close(s.done)
	})
}

func (s *Session) readLoop() {
	for {
		tok, err := s.dec.Token()
		if err != nil {
			s.fail(fmt.Errorf("wire: read stream: %w", err))
			return
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "message":
			var m Message
			if err := s.dec.DecodeElement(&m, &se); err != nil {
				s.fail(fmt.Errorf("wire: decode message: %w", err))
				return
			}
			select {
			case s.messages <- &m:
			default:
				// Sessions without a consumer (actors) shed inbound traffic.
			}
		case "presence":
			var p Presence
			if err := s.dec.DecodeElement(&p, &se); err != nil {
				s.fail(fmt.Errorf("wire: decode presence: %w", err))
				return
			}
			s.deliverPresence(&p)
		case "iq":
			var iq IQ
			if err := s.dec.DecodeElement(&iq, &se); err != nil {
				s.fail(fmt.Errorf("wire: decode iq: %w", err))
				return
			}
			s.deliverIQ(&iq)
		case "error":
			s.dec.Skip()
			s.fail(fmt.Errorf("wire: stream error from server"))
			return
		default:
			s.dec.Skip()
		}
	}
}

func (s *Session) deliverPresence(p *Presence) {
	room := Bare(p.From)
	if p.Kicked() {
		select {
		case s.kicks <- room:
		default:
		}
		return
	}
	s.mu.Lock()
	ch, ok := s.joinWait[room]
	s.mu.Unlock()
	if !ok {
		return
	}
	if p.Type == "error" || p.Self() {
		select {
		case ch <- p:
		default:
		}
	}
}

func (s *Session) deliverIQ(iq *IQ) {
	s.mu.Lock()
	ch, ok := s.iqWaiters[iq.ID]
	if ok {
		delete(s.iqWaiters, iq.ID)
	}
	s.mu.Unlock()
	if ok {
		ch <- iq
	}
}

func (s *Session) roundTripIQ(ctx context.Context, to, typ, payload string) (*IQ, error) {
	id := uuid.NewString()
	ch := make(chan *IQ, 1)
	s.mu.Lock()
	s.iqWaiters[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.iqWaiters, id)
		s.mu.Unlock()
	}()

	toAttr := ""
	if to != "" {
		toAttr = fmt.Sprintf(" to='%s'", esc(to))
	}
	if err := s.send("<iq id='%s' type='%s'%s>%s</iq>", id, typ, toAttr, payload); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, iqTimeout)
	defer cancel()
	select {
	case iq := <-ch:
		if iq.Type == "error" {
			if iq.Error != nil {
				return nil, fmt.Errorf("wire: iq error: %s %s", iq.Error.Type, iq.Error.Text)
			}
			return nil, fmt.Errorf("wire: iq error")
		}
		return iq, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wire: iq to %s: %w", to, ctx.Err())
	case <-s.done:
		return nil, fmt.Errorf("wire: session closed during iq")
	}
}

func (s *Session) requestRoster(ctx context.Context) error {
	_, err := s.roundTripIQ(ctx, "", "get", "<query xmlns='jabber:iq:roster'/>")
	return err
}

// Ping sends an XEP-0199 ping to the server.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.roundTripIQ(ctx, s.domain, "get", "<ping xmlns='urn:xmpp:ping'/>")
	return err
}

// SendGroupchat posts a plain groupchat message and returns its stanza id.
func (s *Session) SendGroupchat(muc, body string) (string, error) {
	id := uuid.NewString()
	err := s.send("<message id='%s' to='%s' type='groupchat'><body>%s</body></message>",
		id, esc(muc), esc(body))
	return id, err
}

// SendGroupchatOOB posts an attachment message: the URL as plain body, as
// an XEP-0066 extension, and as an XHTML-IM anchor for clients that render
// rich bodies.
func (s *Session) SendGroupchatOOB(muc, url string) (string, error) {
	id := uuid.NewString()
	err := s.send(
		"<message id='%s' to='%s' type='groupchat'><body>%s</body>"+
			"<x xmlns='jabber:x:oob'><url>%s</url></x>"+
			"<html xmlns='http://jabber.org/protocol/xhtml-im'>"+
			"<body xmlns='http://www.w3.org/1999/xhtml'><a href='%s'>%s</a></body></html>"+
			"</message>",
		id, esc(muc), esc(url), esc(url), esc(url), esc(url))
	return id, err
}

// SendGroupchatReplace posts an XEP-0308 correction of replaceID.
func (s *Session) SendGroupchatReplace(muc, body, replaceID string) (string, error) {
	id := uuid.NewString()
	err := s.send(
		"<message id='%s' to='%s' type='groupchat'><body>%s</body>"+
			"<replace xmlns='urn:xmpp:message-correct:0' id='%s'/></message>",
		id, esc(muc), esc(body), esc(replaceID))
	return id, err
}
