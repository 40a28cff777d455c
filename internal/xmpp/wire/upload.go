package wire

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

const nsUpload = "urn:xmpp:http:upload:0"

// UploadSlot is an XEP-0363 slot: a one-shot PUT target and the public GET
// URL the uploaded file will be served from.
type UploadSlot struct {
	PutURL  string
	GetURL  string
	Headers map[string]string
}

type discoItems struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/disco#items query"`
	Items   []struct {
		JID string `xml:"jid,attr"`
	} `xml:"item"`
}

type discoInfo struct {
	XMLName  xml.Name `xml:"http://jabber.org/protocol/disco#info query"`
	Features []struct {
		Var string `xml:"var,attr"`
	} `xml:"feature"`
}

type uploadSlotResult struct {
	XMLName xml.Name `xml:"urn:xmpp:http:upload:0 slot"`
	Put     struct {
		URL     string `xml:"url,attr"`
		Headers []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:",chardata"`
		} `xml:"header"`
	} `xml:"put"`
	Get struct {
		URL string `xml:"url,attr"`
	} `xml:"get"`
}

// uploadService finds the server component advertising HTTP upload. The
// result is cached for the life of the session.
func (s *Session) uploadService(ctx context.Context) (string, error) {
	s.mu.Lock()
	cached := s.uploadSvc
	s.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	iq, err := s.roundTripIQ(ctx, s.domain, "get",
		"<query xmlns='http://jabber.org/protocol/disco#items'/>")
	if err != nil {
		return "", fmt.Errorf("wire: discover services: %w", err)
	}
	var items discoItems
	if err := xml.Unmarshal(iq.Payload, &items); err != nil {
		return "", fmt.Errorf("wire: decode disco items: %w", err)
	}

	for _, item := range items.Items {
		infoIQ, err := s.roundTripIQ(ctx, item.JID, "get",
			"<query xmlns='http://jabber.org/protocol/disco#info'/>")
		if err != nil {
			continue
		}
		var info discoInfo
		if err := xml.Unmarshal(infoIQ.Payload, &info); err != nil {
			continue
		}
		for _, f := range info.Features {
			if f.Var == nsUpload {
				s.mu.Lock()
				s.uploadSvc = item.JID
				s.mu.Unlock()
				return item.JID, nil
			}
		}
	}
	return "", fmt.Errorf("wire: no http upload service on %s", s.domain)
}

// RequestUploadSlot asks the upload service for a slot matching the file's
// name, size and type.
func (s *Session) RequestUploadSlot(ctx context.Context, filename, mime string, size int64) (*UploadSlot, error) {
	svc, err := s.uploadService(ctx)
	if err != nil {
		return nil, err
	}

	payload := fmt.Sprintf("<request xmlns='%s' filename='%s' size='%d' content-type='%s'/>",
		nsUpload, esc(filename), size, esc(mime))
	iq, err := s.roundTripIQ(ctx, svc, "get", payload)
	if err != nil {
		return nil, fmt.Errorf("wire: request upload slot: %w", err)
	}

	var slot uploadSlotResult
	if err := xml.Unmarshal(iq.Payload, &slot); err != nil {
		return nil, fmt.Errorf("wire: decode upload slot: %w", err)
	}
	if slot.Put.URL == "" || slot.Get.URL == "" {
		return nil, fmt.Errorf("wire: upload slot carries no urls")
	}
	headers := make(map[string]string, len(slot.Put.Headers))
	for _, h := range slot.Put.Headers {
		// Only the headers XEP-0363 allows a slot to dictate.
		switch h.Name {
		case "Authorization", "Cookie", "Expires":
			headers[h.Name] = h.Value
		}
	}
	return &UploadSlot{PutURL: slot.Put.URL, GetURL: slot.Get.URL, Headers: headers}, nil
}

// UploadPut streams the file body into the slot.
func UploadPut(ctx context.Context, client *http.Client, slot *UploadSlot, body io.Reader, size int64, mime string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, slot.PutURL, body)
	if err != nil {
		return fmt.Errorf("wire: build upload request: %w", err)
	}
	req.ContentLength = size
	if mime != "" {
		req.Header.Set("Content-Type", mime)
	}
	for name, value := range slot.Headers {
		req.Header.Set(name, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("wire: upload to %s: %w", slot.PutURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("wire: upload to %s: unexpected status %d", slot.PutURL, resp.StatusCode)
	}
	return nil
}
