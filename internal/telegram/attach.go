package telegram

import (
	"fmt"
	"mime"
)

// attachment is the file payload extracted from an inbound message, with a
// synthesized display name when Telegram supplies none.
type attachment struct {
	cacheable bool // stickers only: stable identity across sessions
	fileID    string
	uniqueID  string
	name      string
	mime      string
	size      int64
}

// preferredExtensions pins the common MIME types to their conventional
// extensions; mime.ExtensionsByType is alphabetical and would pick ".jpe"
// for image/jpeg.
var preferredExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
	"audio/mpeg": ".mp3",
	"audio/ogg":  ".ogg",
}

func extensionFor(mimeType, fallback string) string {
	if mimeType == "" {
		mimeType = fallback
	}
	if ext, ok := preferredExtensions[mimeType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// extractAttachment picks the single media payload of a message, if any.
// Animated stickers are skipped: they are TGS files no XMPP client can
// render.
func extractAttachment(sender string, m *APIMessage) *attachment {
	switch {
	case m.Sticker != nil:
		st := m.Sticker
		if st.IsAnimated {
			return nil
		}
		ext, mimeType := "webp", "image/webp"
		if st.IsVideo {
			ext, mimeType = "webm", "video/webm"
		}
		return &attachment{
			cacheable: true,
			fileID:    st.FileID,
			uniqueID:  st.FileUniqueID,
			name:      fmt.Sprintf("Sticker %s from %s.%s", st.Emoji, sender, ext),
			mime:      mimeType,
			size:      st.FileSize,
		}
	case len(m.Photo) > 0:
		// The ladder is ordered by size; take the largest rendition.
		p := m.Photo[len(m.Photo)-1]
		return &attachment{
			fileID:   p.FileID,
			uniqueID: p.FileUniqueID,
			name:     fmt.Sprintf("Photo from %s.jpg", sender),
			mime:     "image/jpeg",
			size:     p.FileSize,
		}
	case m.Video != nil, m.VideoNote != nil, m.Animation != nil:
		v := m.Video
		if v == nil {
			v = m.VideoNote
		}
		if v == nil {
			v = m.Animation
		}
		name := v.FileName
		if name == "" {
			name = fmt.Sprintf("Video from %s%s", sender, extensionFor(v.MimeType, "video/mp4"))
		}
		return &attachment{
			fileID:   v.FileID,
			uniqueID: v.FileUniqueID,
			name:     name,
			mime:     v.MimeType,
			size:     v.FileSize,
		}
	case m.Voice != nil:
		return &attachment{
			fileID:   m.Voice.FileID,
			uniqueID: m.Voice.FileUniqueID,
			name:     fmt.Sprintf("Voice message from %s.ogg", sender),
			mime:     "audio/ogg",
			size:     m.Voice.FileSize,
		}
	case m.Audio != nil:
		name := m.Audio.FileName
		if name == "" {
			name = fmt.Sprintf("Audio from %s%s", sender, extensionFor(m.Audio.MimeType, "audio/mpeg"))
		}
		return &attachment{
			fileID:   m.Audio.FileID,
			uniqueID: m.Audio.FileUniqueID,
			name:     name,
			mime:     m.Audio.MimeType,
			size:     m.Audio.FileSize,
		}
	case m.Document != nil:
		name := m.Document.FileName
		if name == "" {
			name = fmt.Sprintf("Document from %s%s", sender, extensionFor(m.Document.MimeType, ""))
		}
		return &attachment{
			fileID:   m.Document.FileID,
			uniqueID: m.Document.FileUniqueID,
			name:     name,
			mime:     m.Document.MimeType,
			size:     m.Document.FileSize,
		}
	}
	return nil
}
