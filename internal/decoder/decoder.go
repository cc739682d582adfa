// Package decoder turns gateway message content into a NormalizedMessage.
//
// Content is an object with one content key (conversation,
// imageMessage, protocolMessage, ...) plus optional transport metadata.
// Variants are tried in a fixed priority order; the first key present wins.
package decoder

import (
	"strings"
	"unicode"

	"github.com/tidwall/gjson"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"chatinbox/internal/domain"
	"chatinbox/internal/wire"
)

// maxDepth bounds recursion through wrapper variants (viewOnce, edited, ...).
const maxDepth = 4

// keys that never carry user content
var nonContentKeys = map[string]bool{
	"messageContextInfo":           true,
	"senderKeyDistributionMessage": true,
}

// decodeFunc decodes the value stored under a variant key. ok is false
// when the value does not have the shape the variant expects, in which
// case the next variant is tried.
type decodeFunc func(v gjson.Result, depth int) (domain.NormalizedMessage, bool)

type variant struct {
	keys   []string
	decode decodeFunc
}

var variants []variant

func init() {
	variants = []variant{
		{[]string{"protocolMessage"}, decodeProtocol},
		{[]string{"pollCreationMessage", "pollCreationMessageV2", "pollCreationMessageV3"}, decodePoll},
		{[]string{"pollUpdateMessage"}, decodePollVote},
		{[]string{"viewOnceMessage", "viewOnceMessageV2", "viewOnceMessageV2Extension"}, decodeViewOnce},
		{[]string{"buttonsMessage"}, decodeButtons},
		{[]string{"buttonsResponseMessage"}, decodeButtonsResponse},
		{[]string{"listMessage"}, decodeList},
		{[]string{"listResponseMessage"}, decodeListResponse},
		{[]string{"templateMessage"}, decodeTemplate},
		{[]string{"templateButtonReplyMessage"}, decodeTemplateReply},
		{[]string{"commentMessage"}, decodeComment},
		{[]string{"editedMessage"}, decodeEdited},
		{[]string{"conversation"}, decodeConversation},
		{[]string{"extendedTextMessage"}, decodeExtendedText},
		{[]string{"imageMessage"}, decodeMedia(domain.KindImage)},
		{[]string{"videoMessage", "ptvMessage"}, decodeMedia(domain.KindVideo)},
		{[]string{"audioMessage"}, decodeMedia(domain.KindAudio)},
		{[]string{"documentMessage"}, decodeMedia(domain.KindDocument)},
		{[]string{"documentWithCaptionMessage"}, decodeDocumentWithCaption},
		{[]string{"locationMessage"}, decodeLocation(false)},
		{[]string{"liveLocationMessage"}, decodeLocation(true)},
		{[]string{"contactMessage"}, decodeContact},
		{[]string{"contactsArrayMessage"}, decodeContactsArray},
		{[]string{"stickerMessage"}, decodeMedia(domain.KindSticker)},
		{[]string{"reactionMessage"}, decodeReaction},
	}
}

// Decoder decodes message content. It holds no state and is safe for
// concurrent use.
type Decoder struct{}

// New returns a Decoder.
func New() *Decoder { return &Decoder{} }

// Decode classifies content and extracts its fields. It never fails:
// missing or unrecognized content yields system_ignore or unknown.
func (d *Decoder) Decode(content gjson.Result) domain.NormalizedMessage {
	return decodeContent(content, 0)
}

func decodeContent(content gjson.Result, depth int) domain.NormalizedMessage {
	if depth > maxDepth || !content.IsObject() {
		return ignored()
	}

	// fields is keyed by the lower-camel key; order keeps the raw keys as
	// they arrived so unknown types are reported verbatim.
	fields := make(map[string]gjson.Result)
	var order []string
	content.ForEach(func(k, v gjson.Result) bool {
		raw := k.String()
		key := wire.LowerFirst(raw)
		if v.Type == gjson.Null || nonContentKeys[key] {
			return true
		}
		if _, dup := fields[key]; !dup {
			fields[key] = v
			order = append(order, raw)
		}
		return true
	})
	if len(order) == 0 {
		return ignored()
	}

	for _, vr := range variants {
		for _, key := range vr.keys {
			v, ok := fields[key]
			if !ok {
				continue
			}
			msg, ok := vr.decode(v, depth)
			if !ok {
				continue
			}
			if msg.QuotedWireID == "" {
				msg.QuotedWireID = quotedID(v)
			}
			return msg
		}
	}
	return unknown(order[0])
}

func ignored() domain.NormalizedMessage {
	return domain.NormalizedMessage{Kind: domain.KindSystemIgnore}
}

func unknown(key string) domain.NormalizedMessage {
	return domain.NormalizedMessage{
		Kind:         domain.KindUnknown,
		Text:         "📩 " + Label(key),
		OriginalType: key,
	}
}

// quotedID reads contextInfo.stanzaId from a content branch.
func quotedID(v gjson.Result) string {
	ci := wire.Get(v, "contextInfo")
	return wire.Str(ci, "stanzaId", "StanzaID")
}

// Label turns a content key into a human label: the trailing "Message" is
// dropped, camel case is split into words and each word is title-cased.
// "fooBarMessage" becomes "Foo Bar".
func Label(key string) string {
	name := key
	if len(name) > len("message") && strings.HasSuffix(strings.ToLower(name), "message") {
		name = name[:len(name)-len("message")]
	}
	words := splitCamel(name)
	if len(words) == 0 {
		return key
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}

// splitCamel splits "fooBARBaz2x" into ["foo", "BAR", "Baz2x"]. Underscores
// and hyphens also separate words.
func splitCamel(s string) []string {
	runes := []rune(s)
	var words []string
	start := 0
	flush := func(end int) {
		if w := strings.Trim(string(runes[start:end]), "_- "); w != "" {
			words = append(words, w)
		}
		start = end
	}
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		switch {
		case cur == '_' || cur == '-' || cur == ' ':
			flush(i)
		case unicode.IsUpper(cur) && (unicode.IsLower(prev) || unicode.IsDigit(prev)):
			flush(i)
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			flush(i)
		}
	}
	flush(len(runes))
	return words
}
