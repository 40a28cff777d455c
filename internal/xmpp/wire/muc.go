package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

func tlsClient(conn net.Conn, serverName string) *tls.Conn {
	return tls.Client(conn, &tls.Config{ServerName: serverName})
}

// JoinMUC requests occupancy of muc under nick and waits for the room to
// confirm with a self-presence. History replay is suppressed.
func (s *Session) JoinMUC(ctx context.Context, muc, nick string) error {
	ch := make(chan *Presence, 1)
	s.mu.Lock()
	s.joinWait[muc] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.joinWait, muc)
		s.mu.Unlock()
	}()

	err := s.send(
		"<presence to='%s/%s'><x xmlns='http://jabber.org/protocol/muc'>"+
			"<history maxstanzas='0'/></x></presence>",
		esc(muc), esc(nick))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	select {
	case p := <-ch:
		if p.Type == "error" {
			if p.Error != nil {
				return fmt.Errorf("wire: join %s: %s %s", muc, p.Error.Type, p.Error.Text)
			}
			return fmt.Errorf("wire: join %s rejected", muc)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wire: join %s: %w", muc, ctx.Err())
	case <-s.done:
		return fmt.Errorf("wire: session closed while joining %s", muc)
	}
}

// LeaveMUC withdraws the occupant presence from muc.
func (s *Session) LeaveMUC(muc, nick string) error {
	return s.send("<presence to='%s/%s' type='unavailable'/>", esc(muc), esc(nick))
}
