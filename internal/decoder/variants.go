package decoder

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"chatinbox/internal/domain"
	"chatinbox/internal/wire"
)

// protocol message sub-types
const (
	protocolRevoke      = 0
	protocolMessageEdit = 14
)

var protocolTypeNames = map[string]int64{
	"REVOKE":       protocolRevoke,
	"MESSAGE_EDIT": protocolMessageEdit,
}

func decodeProtocol(v gjson.Result, depth int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	t := wire.Get(v, "type")
	code := int64(-1)
	switch t.Type {
	case gjson.Number:
		code = t.Int()
	case gjson.String:
		if n, ok := protocolTypeNames[strings.ToUpper(t.Str)]; ok {
			code = n
		}
	}
	target := wire.Str(wire.Get(v, "key"), "id", "ID")

	switch code {
	case protocolRevoke:
		return domain.NormalizedMessage{
			Kind:           domain.KindProtocolDelete,
			ProtocolTarget: target,
			IsDeleted:      true,
		}, true
	case protocolMessageEdit:
		edited := decodeContent(wire.Get(v, "editedMessage"), depth+1)
		return domain.NormalizedMessage{
			Kind:           domain.KindProtocolEdit,
			Text:           edited.Text,
			ProtocolTarget: target,
			IsEdited:       true,
		}, true
	}
	return ignored(), true
}

func decodePoll(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	poll := &domain.PollData{
		Question:        wire.Str(v, "name"),
		SelectableCount: int(wire.Int(v, "selectableOptionsCount")),
	}
	for _, opt := range wire.Get(v, "options").Array() {
		name := wire.Str(opt, "optionName")
		if name == "" && opt.Type == gjson.String {
			name = opt.Str
		}
		if name != "" {
			poll.Options = append(poll.Options, name)
		}
	}
	return domain.NormalizedMessage{
		Kind: domain.KindPoll,
		Text: RenderPoll(poll.Question, poll.Options),
		Poll: poll,
	}, true
}

// RenderPoll renders a poll as its question followed by numbered options.
func RenderPoll(question string, options []string) string {
	var b strings.Builder
	b.WriteString("📊 ")
	b.WriteString(question)
	for i, opt := range options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, opt)
	}
	return b.String()
}

func decodePollVote(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	target := wire.Str(wire.Get(v, "pollCreationMessageKey"), "id", "ID")
	return domain.NormalizedMessage{
		Kind: domain.KindPollVote,
		Text: "🗳️ Poll vote",
		Poll: &domain.PollData{TargetWireID: target},
	}, true
}

func decodeViewOnce(v gjson.Result, depth int) (domain.NormalizedMessage, bool) {
	inner := wire.Get(v, "message")
	if !inner.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	msg := decodeContent(inner, depth+1)
	msg.ViewOnce = true
	return msg, true
}

func decodeButtons(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	data := &domain.InteractiveData{
		Kind:   "buttons",
		Title:  wire.Str(v, "text"),
		Body:   wire.Str(v, "contentText"),
		Footer: wire.Str(v, "footerText"),
	}
	for _, b := range wire.Get(v, "buttons").Array() {
		data.Options = append(data.Options, domain.InteractiveOption{
			ID:    wire.Str(b, "buttonId"),
			Title: wire.Str(wire.Get(b, "buttonText"), "displayText"),
		})
	}
	return domain.NormalizedMessage{
		Kind:        domain.KindButtons,
		Text:        joinLines(data.Title, data.Body, data.Footer),
		Interactive: data,
	}, true
}

func decodeButtonsResponse(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	text := wire.Str(v, "selectedDisplayText")
	if text == "" {
		text = wire.Str(wire.Get(v, "response"), "selectedDisplayText")
	}
	return domain.NormalizedMessage{
		Kind: domain.KindButtonsResponse,
		Text: text,
		Interactive: &domain.InteractiveData{
			Kind:        "buttons_response",
			SelectedID:  wire.Str(v, "selectedButtonId", "selectedButtonID"),
			SelectedRow: text,
		},
	}, true
}

func decodeList(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	data := &domain.InteractiveData{
		Kind:       "list",
		Title:      wire.Str(v, "title"),
		Body:       wire.Str(v, "description"),
		Footer:     wire.Str(v, "footerText"),
		ButtonText: wire.Str(v, "buttonText"),
	}
	for _, sec := range wire.Get(v, "sections").Array() {
		section := wire.Str(sec, "title")
		for _, row := range wire.Get(sec, "rows").Array() {
			data.Options = append(data.Options, domain.InteractiveOption{
				ID:          wire.Str(row, "rowId", "rowID"),
				Title:       wire.Str(row, "title"),
				Description: wire.Str(row, "description"),
				Section:     section,
			})
		}
	}
	return domain.NormalizedMessage{
		Kind:        domain.KindList,
		Text:        joinLines(data.Title, data.Body),
		Interactive: data,
	}, true
}

func decodeListResponse(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	title := wire.Str(v, "title")
	return domain.NormalizedMessage{
		Kind: domain.KindListResponse,
		Text: title,
		Interactive: &domain.InteractiveData{
			Kind:        "list_response",
			Body:        wire.Str(v, "description"),
			SelectedID:  wire.Str(wire.Get(v, "singleSelectReply"), "selectedRowId", "selectedRowID"),
			SelectedRow: title,
		},
	}, true
}

func decodeTemplate(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	tpl := wire.Get(v, "hydratedTemplate", "hydratedFourRowTemplate", "fourRowTemplate")
	if !tpl.IsObject() {
		tpl = v
	}
	data := &domain.InteractiveData{
		Kind:   "template",
		Title:  wire.Str(tpl, "hydratedTitleText", "titleText"),
		Body:   wire.Str(tpl, "hydratedContentText", "contentText"),
		Footer: wire.Str(tpl, "hydratedFooterText", "footerText"),
	}
	for _, b := range wire.Get(tpl, "hydratedButtons", "buttons").Array() {
		var opt domain.InteractiveOption
		switch {
		case wire.Get(b, "quickReplyButton").Exists():
			qr := wire.Get(b, "quickReplyButton")
			opt = domain.InteractiveOption{ID: wire.Str(qr, "id", "ID"), Title: wire.Str(qr, "displayText")}
		case wire.Get(b, "urlButton").Exists():
			ub := wire.Get(b, "urlButton")
			opt = domain.InteractiveOption{Title: wire.Str(ub, "displayText"), URL: wire.Str(ub, "url", "URL")}
		case wire.Get(b, "callButton").Exists():
			cb := wire.Get(b, "callButton")
			opt = domain.InteractiveOption{Title: wire.Str(cb, "displayText"), Phone: wire.Str(cb, "phoneNumber")}
		default:
			continue
		}
		data.Options = append(data.Options, opt)
	}
	return domain.NormalizedMessage{
		Kind:        domain.KindTemplate,
		Text:        joinLines(data.Title, data.Body, data.Footer),
		Interactive: data,
	}, true
}

func decodeTemplateReply(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	text := wire.Str(v, "selectedDisplayText")
	return domain.NormalizedMessage{
		Kind: domain.KindButtonsResponse,
		Text: text,
		Interactive: &domain.InteractiveData{
			Kind:        "template_reply",
			SelectedID:  wire.Str(v, "selectedId", "selectedID"),
			SelectedRow: text,
		},
	}, true
}

func decodeComment(v gjson.Result, depth int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	inner := decodeContent(wire.Get(v, "message"), depth+1)
	return domain.NormalizedMessage{
		Kind:           domain.KindChannelComment,
		Text:           inner.Text,
		ProtocolTarget: wire.Str(wire.Get(v, "targetMessageKey"), "id", "ID"),
	}, true
}

func decodeEdited(v gjson.Result, depth int) (domain.NormalizedMessage, bool) {
	inner := wire.Get(v, "message")
	if !inner.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	msg := decodeContent(inner, depth+1)
	msg.IsEdited = true
	return msg, true
}

func decodeConversation(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if v.Type != gjson.String {
		return domain.NormalizedMessage{}, false
	}
	return domain.NormalizedMessage{Kind: domain.KindText, Text: v.Str}, true
}

func decodeExtendedText(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	return domain.NormalizedMessage{Kind: domain.KindText, Text: wire.Str(v, "text")}, true
}

func decodeMedia(kind domain.MessageKind) decodeFunc {
	return func(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
		if !v.IsObject() {
			return domain.NormalizedMessage{}, false
		}
		return domain.NormalizedMessage{
			Kind:  kind,
			Text:  wire.Str(v, "caption"),
			Media: mediaRef(v),
		}, true
	}
}

func decodeDocumentWithCaption(v gjson.Result, depth int) (domain.NormalizedMessage, bool) {
	inner := wire.Get(v, "message")
	if !inner.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	msg := decodeContent(inner, depth+1)
	return msg, msg.Kind == domain.KindDocument
}

func mediaRef(v gjson.Result) *domain.MediaRef {
	filename := wire.Str(v, "fileName", "title")
	return &domain.MediaRef{
		URL:           wire.Str(v, "url", "URL"),
		DirectPath:    wire.Str(v, "directPath"),
		MediaKey:      wire.Str(v, "mediaKey"),
		MimeType:      wire.Str(v, "mimetype", "mimeType"),
		FileSHA256:    wire.Str(v, "fileSha256", "fileSHA256"),
		FileEncSHA256: wire.Str(v, "fileEncSha256", "fileEncSHA256"),
		FileLength:    wire.Int(v, "fileLength"),
		Seconds:       int(wire.Int(v, "seconds")),
		Width:         int(wire.Int(v, "width")),
		Height:        int(wire.Int(v, "height")),
		Thumbnail:     wire.Str(v, "jpegThumbnail", "JPEGThumbnail"),
		PTT:           wire.Bool(v, "ptt", "PTT"),
		Filename:      filename,
	}
}

func decodeLocation(live bool) decodeFunc {
	return func(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
		if !v.IsObject() {
			return domain.NormalizedMessage{}, false
		}
		loc := &domain.Location{
			Latitude:  wire.Float(v, "degreesLatitude"),
			Longitude: wire.Float(v, "degreesLongitude"),
			Name:      wire.Str(v, "name"),
			Address:   wire.Str(v, "address"),
			Live:      live,
		}
		text := loc.Name
		if text == "" {
			text = loc.Address
		}
		if live && text == "" {
			text = wire.Str(v, "caption")
		}
		return domain.NormalizedMessage{Kind: domain.KindLocation, Text: text, Location: loc}, true
	}
}

func decodeContact(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	card := &domain.ContactCard{DisplayName: wire.Str(v, "displayName")}
	if vc := wire.Str(v, "vcard"); vc != "" {
		card.VCards = []string{vc}
	}
	return domain.NormalizedMessage{Kind: domain.KindContact, Text: contactText(card.DisplayName), Contact: card}, true
}

func decodeContactsArray(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	card := &domain.ContactCard{DisplayName: wire.Str(v, "displayName")}
	var names []string
	for _, c := range wire.Get(v, "contacts").Array() {
		if vc := wire.Str(c, "vcard"); vc != "" {
			card.VCards = append(card.VCards, vc)
		}
		if n := wire.Str(c, "displayName"); n != "" {
			names = append(names, n)
		}
	}
	if card.DisplayName == "" {
		card.DisplayName = strings.Join(names, ", ")
	}
	return domain.NormalizedMessage{Kind: domain.KindContact, Text: contactText(card.DisplayName), Contact: card}, true
}

func contactText(name string) string {
	if name == "" {
		return ""
	}
	return "👤 " + name
}

func decodeReaction(v gjson.Result, _ int) (domain.NormalizedMessage, bool) {
	if !v.IsObject() {
		return domain.NormalizedMessage{}, false
	}
	emoji := wire.Str(v, "text")
	return domain.NormalizedMessage{
		Kind: domain.KindReaction,
		Text: emoji,
		Reaction: &domain.Reaction{
			TargetWireID: wire.Str(wire.Get(v, "key"), "id", "ID"),
			Emoji:        emoji,
			Removed:      emoji == "",
		},
	}, true
}

func joinLines(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
