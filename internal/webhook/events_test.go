package webhook

import (
	"errors"
	"testing"
	"time"

	"chatinbox/internal/domain"
)

func TestAdaptReceipt(t *testing.T) {
	data := `{"Chat":"1@s.whatsapp.net","Sender":"1@s.whatsapp.net","MessageIDs":["A","B"],"Type":"read","Timestamp":"2024-05-01T12:00:00Z"}`
	rc, ok, err := AdaptReceipt([]byte(data), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected tracked receipt")
	}
	if rc.Status != domain.StatusRead {
		t.Errorf("expected read, got %q", rc.Status)
	}
	if len(rc.MessageIDs) != 2 || rc.MessageIDs[1] != "B" {
		t.Errorf("unexpected ids %v", rc.MessageIDs)
	}
}

func TestAdaptReceipt_DefaultDelivered(t *testing.T) {
	data := `{"MessageSource":{"Chat":"1@s.whatsapp.net"},"MessageIDs":["A"],"Type":""}`
	rc, ok, err := AdaptReceipt([]byte(data), time.Time{})
	if err != nil || !ok {
		t.Fatalf("unexpected ok=%v err=%v", ok, err)
	}
	if rc.Status != domain.StatusDelivered {
		t.Errorf("expected delivered, got %q", rc.Status)
	}
}

func TestAdaptReceipt_Untracked(t *testing.T) {
	_, ok, err := AdaptReceipt([]byte(`{"Chat":"1@s.whatsapp.net","MessageIDs":["A"],"Type":"retry"}`), time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("retry receipts should not be tracked")
	}
}

func TestAdaptReceipt_NoIDs(t *testing.T) {
	_, _, err := AdaptReceipt([]byte(`{"Chat":"1@s.whatsapp.net","MessageIDs":[]}`), time.Time{})
	var mie *MissingInfoError
	if !errors.As(err, &mie) {
		t.Errorf("expected MissingInfoError, got %v", err)
	}
}

func TestAdaptPresence(t *testing.T) {
	cases := []struct {
		data string
		want string
	}{
		{`{"Chat":"1@s.whatsapp.net","State":"composing"}`, "composing"},
		{`{"Chat":"1@s.whatsapp.net","State":"composing","Media":"audio"}`, "recording"},
		{`{"From":"1@s.whatsapp.net","Unavailable":true}`, "unavailable"},
		{`{"From":"1@s.whatsapp.net","Unavailable":false}`, "available"},
	}
	for _, c := range cases {
		p, err := AdaptPresence([]byte(c.data))
		if err != nil {
			t.Fatalf("%s: %v", c.data, err)
		}
		if p.State != c.want {
			t.Errorf("%s: expected %q, got %q", c.data, c.want, p.State)
		}
		if p.ContactID != "1@s.whatsapp.net" {
			t.Errorf("%s: unexpected contact %q", c.data, p.ContactID)
		}
	}
}

func TestAdaptGroup(t *testing.T) {
	cases := map[string]string{
		`{"JID":"1203@g.us","Name":{"Name":"Family"}}`:       "Family",
		`{"JID":"1203@g.us","Name":" Family "}`:              "Family",
		`{"GroupInfo":{"JID":"1203@g.us","Name":"Family"}}`:  "Family",
		`{"jid":"1203@g.us","subject":"Family"}`:             "Family",
	}
	for data, want := range cases {
		g, err := AdaptGroup([]byte(data))
		if err != nil {
			t.Fatalf("%s: %v", data, err)
		}
		if g.GroupID != "1203@g.us" || g.Name != want {
			t.Errorf("%s: got %+v", data, g)
		}
	}
}

func TestAdaptGroup_MissingID(t *testing.T) {
	if _, err := AdaptGroup([]byte(`{"Name":"x"}`)); err == nil {
		t.Error("expected error for missing group id")
	}
}

func TestAdaptStatus(t *testing.T) {
	if st := AdaptStatus([]byte(`{}`), "Connected"); st.Status != "connected" {
		t.Errorf("expected event type fallback, got %q", st.Status)
	}
	if st := AdaptStatus([]byte(`{"status":"qr","reason":"scan"}`), "Status"); st.Status != "qr" || st.Reason != "scan" {
		t.Errorf("unexpected %+v", st)
	}
}
