package decoder

import (
	"reflect"
	"testing"

	"github.com/tidwall/gjson"

	"chatinbox/internal/domain"
)

func decode(t *testing.T, raw string) domain.NormalizedMessage {
	t.Helper()
	if !gjson.Valid(raw) {
		t.Fatalf("invalid test JSON: %s", raw)
	}
	return New().Decode(gjson.Parse(raw))
}

func TestDecode_Text(t *testing.T) {
	cases := []string{
		`{"conversation":"hello"}`,
		`{"Conversation":"hello"}`,
		`{"extendedTextMessage":{"text":"hello"}}`,
		`{"ExtendedTextMessage":{"Text":"hello"}}`,
	}
	for _, raw := range cases {
		m := decode(t, raw)
		if m.Kind != domain.KindText || m.Text != "hello" {
			t.Errorf("%s: got kind=%q text=%q", raw, m.Kind, m.Text)
		}
	}
}

func TestDecode_QuotedID(t *testing.T) {
	m := decode(t, `{"extendedTextMessage":{"text":"yes","contextInfo":{"stanzaId":"Q1","participant":"x@s.whatsapp.net"}}}`)
	if m.QuotedWireID != "Q1" {
		t.Errorf("expected quoted id Q1, got %q", m.QuotedWireID)
	}
	m = decode(t, `{"imageMessage":{"caption":"c","ContextInfo":{"StanzaID":"Q2"}}}`)
	if m.QuotedWireID != "Q2" {
		t.Errorf("expected quoted id Q2, got %q", m.QuotedWireID)
	}
}

func TestDecode_SenderKeyDistributionOnly(t *testing.T) {
	m := decode(t, `{"senderKeyDistributionMessage":{"groupId":"x","axolotlSenderKeyDistributionMessage":"AAA"},"messageContextInfo":{"deviceListMetadata":{}}}`)
	if m.Kind != domain.KindSystemIgnore {
		t.Errorf("expected system_ignore, got %q", m.Kind)
	}
}

func TestDecode_SenderKeyDistributionWithContent(t *testing.T) {
	m := decode(t, `{"senderKeyDistributionMessage":{"groupId":"x"},"conversation":"hi group"}`)
	if m.Kind != domain.KindText || m.Text != "hi group" {
		t.Errorf("expected text, got kind=%q text=%q", m.Kind, m.Text)
	}
}

func TestDecode_Empty(t *testing.T) {
	for _, raw := range []string{`{}`, `null`, `"str"`, `{"messageContextInfo":{}}`} {
		if m := decode(t, raw); m.Kind != domain.KindSystemIgnore {
			t.Errorf("%s: expected system_ignore, got %q", raw, m.Kind)
		}
	}
}

func TestDecode_Unknown(t *testing.T) {
	for _, key := range []string{"FooBarMessage", "fooBarMessage"} {
		m := decode(t, `{"`+key+`":{"x":1}}`)
		if m.Kind != domain.KindUnknown {
			t.Fatalf("%s: expected unknown, got %q", key, m.Kind)
		}
		if m.Text != "📩 Foo Bar" {
			t.Errorf("%s: unexpected label %q", key, m.Text)
		}
		if m.OriginalType != key {
			t.Errorf("%s: original type should keep the wire casing, got %q", key, m.OriginalType)
		}
	}
}

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"FooBarMessage":             "Foo Bar",
		"fooBarMessage":             "Foo Bar",
		"groupInviteMessage":        "Group Invite",
		"message":                   "Message",
		"scheduledCallCreation":     "Scheduled Call Creation",
		"PDFPreviewMessage":         "Pdf Preview",
		"interactive_responseThing": "Interactive Response Thing",
	}
	for in, want := range cases {
		if got := Label(in); got != want {
			t.Errorf("%q: expected %q, got %q", in, want, got)
		}
	}
}

func TestDecode_Poll(t *testing.T) {
	raw := `{"pollCreationMessageV3":{"name":"Lunch?","options":[{"optionName":"Pizza"},{"optionName":"Sushi"}],"selectableOptionsCount":1}}`
	m := decode(t, raw)
	if m.Kind != domain.KindPoll {
		t.Fatalf("expected poll, got %q", m.Kind)
	}
	if m.Text != "📊 Lunch?\n1. Pizza\n2. Sushi" {
		t.Errorf("unexpected text %q", m.Text)
	}
	want := &domain.PollData{Question: "Lunch?", Options: []string{"Pizza", "Sushi"}, SelectableCount: 1}
	if !reflect.DeepEqual(m.Poll, want) {
		t.Errorf("unexpected poll data %+v", m.Poll)
	}
}

func TestDecode_PollVote(t *testing.T) {
	m := decode(t, `{"pollUpdateMessage":{"pollCreationMessageKey":{"id":"P1"},"vote":{"encPayload":"x"}}}`)
	if m.Kind != domain.KindPollVote || m.Poll == nil || m.Poll.TargetWireID != "P1" {
		t.Errorf("unexpected vote %+v", m)
	}
}

func TestDecode_ProtocolEdit(t *testing.T) {
	raw := `{"protocolMessage":{"type":14,"key":{"id":"M1"},"editedMessage":{"conversation":"fixed"}}}`
	m := decode(t, raw)
	if m.Kind != domain.KindProtocolEdit {
		t.Fatalf("expected protocol_edit, got %q", m.Kind)
	}
	if !m.IsEdited || m.ProtocolTarget != "M1" || m.Text != "fixed" {
		t.Errorf("unexpected edit %+v", m)
	}
	mut, ok := m.Mutation()
	if !ok || mut.Action != domain.MutationEdit || mut.NewContent != "fixed" || mut.TargetWireMessageID != "M1" {
		t.Errorf("unexpected mutation %+v", mut)
	}
}

func TestDecode_ProtocolEditByName(t *testing.T) {
	raw := `{"ProtocolMessage":{"Type":"MESSAGE_EDIT","Key":{"ID":"M1"},"EditedMessage":{"ExtendedTextMessage":{"Text":"fixed"}}}}`
	m := decode(t, raw)
	if m.Kind != domain.KindProtocolEdit || m.Text != "fixed" || m.ProtocolTarget != "M1" {
		t.Errorf("unexpected edit %+v", m)
	}
}

func TestDecode_ProtocolDelete(t *testing.T) {
	for _, raw := range []string{
		`{"protocolMessage":{"type":0,"key":{"id":"M1"}}}`,
		`{"protocolMessage":{"type":"REVOKE","key":{"id":"M1"}}}`,
	} {
		m := decode(t, raw)
		if m.Kind != domain.KindProtocolDelete || !m.IsDeleted || m.ProtocolTarget != "M1" {
			t.Errorf("%s: unexpected delete %+v", raw, m)
		}
	}
}

func TestDecode_ProtocolOther(t *testing.T) {
	for _, raw := range []string{
		`{"protocolMessage":{"type":3,"ephemeralExpiration":86400}}`,
		`{"protocolMessage":{"type":"HISTORY_SYNC_NOTIFICATION"}}`,
		`{"protocolMessage":{}}`,
	} {
		if m := decode(t, raw); m.Kind != domain.KindSystemIgnore {
			t.Errorf("%s: expected system_ignore, got %q", raw, m.Kind)
		}
	}
}

func TestDecode_ProtocolWinsOverText(t *testing.T) {
	m := decode(t, `{"conversation":"ignored","protocolMessage":{"type":0,"key":{"id":"M1"}}}`)
	if m.Kind != domain.KindProtocolDelete {
		t.Errorf("expected protocol priority, got %q", m.Kind)
	}
}

func TestDecode_EditedWrapper(t *testing.T) {
	m := decode(t, `{"editedMessage":{"message":{"conversation":"v2"}}}`)
	if m.Kind != domain.KindText || m.Text != "v2" || !m.IsEdited {
		t.Errorf("unexpected %+v", m)
	}
}

func TestDecode_ViewOnce(t *testing.T) {
	m := decode(t, `{"viewOnceMessageV2":{"message":{"imageMessage":{"caption":"secret","mimetype":"image/jpeg"}}}}`)
	if m.Kind != domain.KindImage || !m.ViewOnce || m.Text != "secret" {
		t.Errorf("unexpected %+v", m)
	}
}

func TestDecode_Media(t *testing.T) {
	raw := `{"imageMessage":{
		"url":"https://mmg.whatsapp.net/x","directPath":"/v/x","mediaKey":"KEY","mimetype":"image/jpeg",
		"fileSha256":"SHA","fileEncSha256":"ENC","fileLength":"2048","width":640,"height":480,
		"jpegThumbnail":"THUMB","caption":"look"}}`
	m := decode(t, raw)
	if m.Kind != domain.KindImage || m.Text != "look" {
		t.Fatalf("unexpected %q %q", m.Kind, m.Text)
	}
	want := &domain.MediaRef{
		URL: "https://mmg.whatsapp.net/x", DirectPath: "/v/x", MediaKey: "KEY", MimeType: "image/jpeg",
		FileSHA256: "SHA", FileEncSHA256: "ENC", FileLength: 2048, Width: 640, Height: 480, Thumbnail: "THUMB",
	}
	if !reflect.DeepEqual(m.Media, want) {
		t.Errorf("unexpected media %+v", m.Media)
	}
}

func TestDecode_MediaKinds(t *testing.T) {
	cases := map[string]domain.MessageKind{
		`{"videoMessage":{"seconds":3}}`:                        domain.KindVideo,
		`{"ptvMessage":{"seconds":3}}`:                          domain.KindVideo,
		`{"audioMessage":{"ptt":true,"seconds":7}}`:             domain.KindAudio,
		`{"documentMessage":{"fileName":"a.pdf"}}`:              domain.KindDocument,
		`{"stickerMessage":{"mimetype":"image/webp"}}`:          domain.KindSticker,
		`{"locationMessage":{"degreesLatitude":1.5}}`:           domain.KindLocation,
		`{"liveLocationMessage":{"degreesLatitude":1.5}}`:       domain.KindLocation,
		`{"contactMessage":{"displayName":"Ana","vcard":"V"}}`:  domain.KindContact,
		`{"contactsArrayMessage":{"contacts":[{"vcard":"V"}]}}`: domain.KindContact,
		`{"reactionMessage":{"key":{"id":"M1"},"text":"👍"}}`:    domain.KindReaction,
	}
	for raw, want := range cases {
		if m := decode(t, raw); m.Kind != want {
			t.Errorf("%s: expected %q, got %q", raw, want, m.Kind)
		}
	}
}

func TestDecode_Audio(t *testing.T) {
	m := decode(t, `{"audioMessage":{"ptt":true,"seconds":7}}`)
	if m.Media == nil || !m.Media.PTT || m.Media.Seconds != 7 {
		t.Errorf("unexpected media %+v", m.Media)
	}
	if m.Preview() != "🎤 Voice message" {
		t.Errorf("unexpected preview %q", m.Preview())
	}
}

func TestDecode_DocumentWithCaption(t *testing.T) {
	m := decode(t, `{"documentWithCaptionMessage":{"message":{"documentMessage":{"fileName":"report.pdf","caption":"Q3"}}}}`)
	if m.Kind != domain.KindDocument || m.Text != "Q3" || m.Media.Filename != "report.pdf" {
		t.Errorf("unexpected %+v", m)
	}
}

func TestDecode_Location(t *testing.T) {
	m := decode(t, `{"locationMessage":{"degreesLatitude":-23.5,"degreesLongitude":-46.6,"name":"Office","address":"Main St"}}`)
	want := &domain.Location{Latitude: -23.5, Longitude: -46.6, Name: "Office", Address: "Main St"}
	if !reflect.DeepEqual(m.Location, want) {
		t.Errorf("unexpected location %+v", m.Location)
	}
	if m.Text != "Office" {
		t.Errorf("unexpected text %q", m.Text)
	}
}

func TestDecode_Reaction(t *testing.T) {
	m := decode(t, `{"reactionMessage":{"key":{"id":"M1"},"text":""}}`)
	if m.Reaction == nil || !m.Reaction.Removed || m.Reaction.TargetWireID != "M1" {
		t.Errorf("unexpected reaction %+v", m.Reaction)
	}
}

func TestDecode_Buttons(t *testing.T) {
	raw := `{"buttonsMessage":{"contentText":"Pick one","footerText":"thanks","buttons":[{"buttonId":"b1","buttonText":{"displayText":"Yes"}},{"buttonId":"b2","buttonText":{"displayText":"No"}}]}}`
	m := decode(t, raw)
	if m.Kind != domain.KindButtons || m.Interactive == nil {
		t.Fatalf("unexpected %+v", m)
	}
	if len(m.Interactive.Options) != 2 || m.Interactive.Options[1].Title != "No" {
		t.Errorf("unexpected options %+v", m.Interactive.Options)
	}
	if m.Text != "Pick one\nthanks" {
		t.Errorf("unexpected text %q", m.Text)
	}
}

func TestDecode_ButtonsResponse(t *testing.T) {
	m := decode(t, `{"buttonsResponseMessage":{"selectedButtonId":"b1","selectedDisplayText":"Yes"}}`)
	if m.Kind != domain.KindButtonsResponse || m.Text != "Yes" || m.Interactive.SelectedID != "b1" {
		t.Errorf("unexpected %+v", m)
	}
}

func TestDecode_List(t *testing.T) {
	raw := `{"listMessage":{"title":"Menu","description":"Choose","buttonText":"Open","sections":[{"title":"Food","rows":[{"rowId":"r1","title":"Pizza"}]}]}}`
	m := decode(t, raw)
	if m.Kind != domain.KindList || m.Text != "Menu\nChoose" {
		t.Fatalf("unexpected %+v", m)
	}
	opt := m.Interactive.Options[0]
	if opt.ID != "r1" || opt.Section != "Food" || opt.Title != "Pizza" {
		t.Errorf("unexpected option %+v", opt)
	}
}

func TestDecode_ListResponse(t *testing.T) {
	m := decode(t, `{"listResponseMessage":{"title":"Pizza","singleSelectReply":{"selectedRowId":"r1"}}}`)
	if m.Kind != domain.KindListResponse || m.Interactive.SelectedID != "r1" || m.Text != "Pizza" {
		t.Errorf("unexpected %+v", m)
	}
}

func TestDecode_Template(t *testing.T) {
	raw := `{"templateMessage":{"hydratedTemplate":{"hydratedContentText":"Your order shipped","hydratedButtons":[
		{"urlButton":{"displayText":"Track","url":"https://t.example"}},
		{"callButton":{"displayText":"Call","phoneNumber":"+1"}},
		{"quickReplyButton":{"displayText":"OK","id":"ok"}}]}}}`
	m := decode(t, raw)
	if m.Kind != domain.KindTemplate || m.Text != "Your order shipped" {
		t.Fatalf("unexpected %+v", m)
	}
	if len(m.Interactive.Options) != 3 || m.Interactive.Options[0].URL != "https://t.example" || m.Interactive.Options[2].ID != "ok" {
		t.Errorf("unexpected options %+v", m.Interactive.Options)
	}
}

func TestDecode_TemplateReply(t *testing.T) {
	m := decode(t, `{"templateButtonReplyMessage":{"selectedId":"ok","selectedDisplayText":"OK"}}`)
	if m.Kind != domain.KindButtonsResponse || m.Interactive.Kind != "template_reply" {
		t.Errorf("unexpected %+v", m)
	}
}

func TestDecode_ChannelComment(t *testing.T) {
	m := decode(t, `{"commentMessage":{"message":{"conversation":"nice post"},"targetMessageKey":{"id":"C1"}}}`)
	if m.Kind != domain.KindChannelComment || m.Text != "nice post" || m.ProtocolTarget != "C1" {
		t.Errorf("unexpected %+v", m)
	}
}

func TestDecode_Idempotent(t *testing.T) {
	inputs := []string{
		`{"conversation":"hello"}`,
		`{"pollCreationMessage":{"name":"Q","options":[{"optionName":"A"}]}}`,
		`{"protocolMessage":{"type":14,"key":{"id":"M1"},"editedMessage":{"conversation":"x"}}}`,
		`{"somethingNewMessage":{}}`,
		`{"viewOnceMessage":{"message":{"videoMessage":{"caption":"v"}}}}`,
	}
	d := New()
	for _, raw := range inputs {
		a := d.Decode(gjson.Parse(raw))
		b := d.Decode(gjson.Parse(raw))
		if !reflect.DeepEqual(a, b) {
			t.Errorf("%s: decode not idempotent: %+v vs %+v", raw, a, b)
		}
	}
}

func TestDecode_DepthBound(t *testing.T) {
	raw := `{"viewOnceMessage":{"message":{"viewOnceMessage":{"message":{"viewOnceMessage":{"message":{"viewOnceMessage":{"message":{"viewOnceMessage":{"message":{"viewOnceMessage":{"message":{"conversation":"deep"}}}}}}}}}}}}}`
	if m := decode(t, raw); m.Kind != domain.KindSystemIgnore {
		t.Errorf("expected deep nesting to be ignored, got %q", m.Kind)
	}
}
