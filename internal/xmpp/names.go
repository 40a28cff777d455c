package xmpp

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/secure/precis"

	"jabagram/internal/cache"
)

const nameCacheSize = 100

// rtlPattern covers the Hebrew and Arabic blocks. RTL names are
// transliterated because mixing them into a "name (Telegram)" nick garbles
// the rendering order in most clients.
var rtlPattern = regexp.MustCompile(`[\x{0590}-\x{05FF}\x{0600}-\x{06FF}]`)

// nickNormalizer maps Telegram display names onto strings usable as MUC
// occupant nicks. Results are memoized.
type nickNormalizer struct {
	memo *cache.Map[string, string]
}

func newNickNormalizer() (*nickNormalizer, error) {
	memo, err := cache.New[string, string](nameCacheSize)
	if err != nil {
		return nil, err
	}
	return &nickNormalizer{memo: memo}, nil
}

func (n *nickNormalizer) normalize(name string) string {
	if v, ok := n.memo.Get(name); ok {
		return v
	}

	s := name
	if rtlPattern.MatchString(s) {
		s = unidecode.Unidecode(s)
	}

	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) ||
			unicode.Is(unicode.Co, r) || unicode.Is(unicode.Cs, r) {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if enforced, err := precis.OpaqueString.String(out); err == nil {
		out = enforced
	}

	n.memo.Add(name, out)
	return out
}
