package whatsapp

import (
	"context"
	"errors"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/OrderPipe/internal/store"
)

func TestOptions(t *testing.T) {
	var o Opts
	for _, opt := range []Option{
		WithDBDSN("file:/var/lib/orderpipe/whatsmeow.db?_foreign_keys=on"),
		WithQRCodeOutput("/tmp/qr.txt"),
		WithNumericCode(),
	} {
		opt(&o)
	}
	want := Opts{
		DBDSN:       "file:/var/lib/orderpipe/whatsmeow.db?_foreign_keys=on",
		QRPath:      "/tmp/qr.txt",
		NumericCode: true,
	}
	if o != want {
		t.Errorf("options applied = %+v, want %+v", o, want)
	}
}

func TestDeviceStoreDriver(t *testing.T) {
	// the device store shares DSN detection with the bot database
	for dsn, want := range map[string]string{
		"postgres://wa:secret@db/whatsmeow":  "postgres",
		"host=db user=wa dbname=whatsmeow":   "postgres",
		"file:whatsmeow.db?_foreign_keys=on": "sqlite3",
		"/var/lib/orderpipe/whatsmeow.db":    "sqlite3",
	} {
		if got := store.DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestHasForeignKeys(t *testing.T) {
	tests := []struct {
		dsn  string
		want bool
	}{
		{"/tmp/test.db", false},
		{"file:/tmp/test.db?_foreign_keys=on", true},
		{"/tmp/test.db?foreign_keys=on", true},
	}
	for _, tt := range tests {
		if got := HasForeignKeys(tt.dsn); got != tt.want {
			t.Errorf("HasForeignKeys(%q) = %v, want %v", tt.dsn, got, tt.want)
		}
	}
}

func textEvent(sender, text string) *events.Message {
	jid := types.NewJID(sender, JIDSuffix)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: jid, Sender: jid},
			ID:            "ABC123",
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestExtractText(t *testing.T) {
	tm, ok := ExtractText(textEvent("40721000111", "/start"))
	if !ok {
		t.Fatal("expected text message")
	}
	if tm.Sender != "40721000111" || tm.Text != "/start" || tm.ID != "ABC123" {
		t.Errorf("unexpected message %+v", tm)
	}
}

func TestExtractText_ExtendedText(t *testing.T) {
	evt := textEvent("40721000111", "")
	evt.Message = &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("2 cutii")}}
	tm, ok := ExtractText(evt)
	if !ok || tm.Text != "2 cutii" {
		t.Fatalf("expected extended text, got %+v ok=%v", tm, ok)
	}
}

func TestExtractText_Skips(t *testing.T) {
	fromMe := textEvent("40721000111", "hi")
	fromMe.Info.IsFromMe = true

	group := textEvent("40721000111", "hi")
	group.Info.IsGroup = true

	empty := textEvent("40721000111", "   ")

	for name, evt := range map[string]*events.Message{"fromMe": fromMe, "group": group, "empty": empty, "nil": nil} {
		if _, ok := ExtractText(evt); ok {
			t.Errorf("%s: expected message to be skipped", name)
		}
	}
}

func TestMockClient(t *testing.T) {
	m := NewMockClient()
	var got []TextMessage
	m.OnText(func(tm TextMessage) { got = append(got, tm) })
	m.Deliver(TextMessage{ID: "1", Sender: "40721", Text: "da"})
	if len(got) != 1 || got[0].Text != "da" {
		t.Fatalf("expected delivered message, got %+v", got)
	}

	if err := m.SendMessage(context.Background(), "40721", "hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(m.Sent) != 1 || m.Sent[0].Text != "hello" {
		t.Fatalf("expected recorded message, got %+v", m.Sent)
	}

	m.Err = errors.New("boom")
	if err := m.SendMessage(context.Background(), "40721", "x"); err == nil {
		t.Fatal("expected error")
	}

	m.Disconnect()
	m.Deliver(TextMessage{ID: "2", Sender: "40721", Text: "nu"})
	if !m.Disconnected() || len(got) != 1 {
		t.Fatalf("expected no delivery after Disconnect, got %+v", got)
	}
}

func TestClientSendMessage_NotConnected(t *testing.T) {
	var c Client
	if err := c.SendMessage(context.Background(), "40721", "hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}
