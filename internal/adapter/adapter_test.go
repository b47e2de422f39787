package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeUploader struct {
	sources []upload.Source
	failOn  map[string]bool
}

func (f *fakeUploader) Upload(ctx context.Context, src upload.Source) (poe.Attachment, error) {
	f.sources = append(f.sources, src)
	if f.failOn[src.Name] {
		return poe.Attachment{}, errors.New("upload refused")
	}
	return poe.Attachment{URL: "https://pfst/" + src.Name, Name: src.Name}, nil
}

func TestAdaptEmptyConversation(t *testing.T) {
	up := &fakeUploader{}
	_, err := New(up).Adapt(context.Background(), nil, []poe.Attachment{{URL: "x"}})
	if !errors.Is(err, ErrEmptyConversation) {
		t.Fatalf("expected ErrEmptyConversation, got %v", err)
	}
	var adapterErr *Error
	if !errors.As(err, &adapterErr) || adapterErr.StatusCode() != http.StatusBadRequest {
		t.Fatalf("expected a 400 adapter error, got %v", err)
	}
	if len(up.sources) != 0 {
		t.Fatal("no upload may happen for an empty conversation")
	}
}

func TestAdaptRolesAndAttachments(t *testing.T) {
	up := &fakeUploader{}
	messages := []Message{
		TextMessage("system", "be brief"),
		{Role: "user", Parts: []ContentPart{
			TextPart("what is this?"),
			ImagePart("https://example.com/cat.png"),
			ImagePart("data:image/png;base64,aGVsbG8="),
		}},
		TextMessage("assistant", "a cat"),
		TextMessage("user", "and now?"),
		TextMessage("developer", "odd role"),
	}
	out, err := New(up).Adapt(context.Background(), messages, []poe.Attachment{{URL: "https://pfst/explicit", Name: "explicit"}})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if len(out) != len(messages) {
		t.Fatalf("got %d messages, want %d", len(out), len(messages))
	}
	wantRoles := []string{"system", "user", "bot", "user", "user"}
	for i, role := range wantRoles {
		if out[i].Role != role {
			t.Errorf("message %d role = %s, want %s", i, out[i].Role, role)
		}
	}
	if out[1].Content != "what is this?\n[Image: https://example.com/cat.png]" {
		t.Fatalf("unexpected flattened content %q", out[1].Content)
	}

	// The trailing "developer" message maps to user, so it is the last user turn.
	withAttachments := 0
	for i, msg := range out {
		if len(msg.Attachments) > 0 {
			withAttachments++
			if i != 4 {
				t.Fatalf("attachments placed on message %d", i)
			}
		}
	}
	if withAttachments != 1 {
		t.Fatalf("attachments should land on exactly one message, got %d", withAttachments)
	}
	atts := out[4].Attachments
	if len(atts) != 2 || atts[1].Name != "explicit" || !strings.HasSuffix(atts[0].Name, ".png") {
		t.Fatalf("unexpected attachments %+v", atts)
	}
}

func TestAdaptNoUserMessageWarns(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	out, err := New(&fakeUploader{}).Adapt(context.Background(), []Message{
		TextMessage("system", "sys"),
		TextMessage("assistant", "hello"),
	}, []poe.Attachment{{URL: "https://pfst/a"}})
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if len(out[1].Attachments) != 1 || len(out[0].Attachments) != 0 {
		t.Fatalf("attachments should fall back to the last message: %+v", out)
	}
	var warned bool
	for _, entry := range hook.AllEntries() {
		if entry.Level == log.WarnLevel && strings.Contains(entry.Message, "no user message") {
			warned = true
			if entry.Data["attachments"] != 1 {
				t.Fatalf("warning should carry the attachment count, got %v", entry.Data)
			}
		}
	}
	if !warned {
		t.Fatal("expected a warning when no user message exists")
	}
}

func TestAdaptEmbeddedFileReferences(t *testing.T) {
	up := &fakeUploader{}
	text := "see [report](file:///tmp/a.txt) and file:///tmp/b.txt"
	out, err := New(up).Adapt(context.Background(), []Message{TextMessage("user", text)}, nil)
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if len(up.sources) != 2 || up.sources[0].Path != "/tmp/a.txt" || up.sources[1].Path != "/tmp/b.txt" {
		t.Fatalf("references should be uploaded in textual order, got %+v", up.sources)
	}
	if out[0].Content != "see  and" {
		t.Fatalf("references should be removed, got %q", out[0].Content)
	}
	atts := out[0].Attachments
	if len(atts) != 2 || atts[0].Name != "a.txt" || atts[1].Name != "b.txt" {
		t.Fatalf("attachments should keep textual order, got %+v", atts)
	}
}

func TestAdaptUploadFailures(t *testing.T) {
	t.Run("first upload is required", func(t *testing.T) {
		up := &fakeUploader{failOn: map[string]bool{"a.txt": true}}
		_, err := New(up).Adapt(context.Background(), []Message{TextMessage("user", "file:///tmp/a.txt")}, nil)
		var adapterErr *Error
		if !errors.As(err, &adapterErr) {
			t.Fatalf("expected adapter error, got %v", err)
		}
	})
	t.Run("first reference in the text is required", func(t *testing.T) {
		up := &fakeUploader{failOn: map[string]bool{"a.txt": true}}
		_, err := New(up).Adapt(context.Background(), []Message{
			TextMessage("user", "file:///tmp/a.txt file:///tmp/b.txt"),
		}, nil)
		var adapterErr *Error
		if !errors.As(err, &adapterErr) {
			t.Fatalf("expected adapter error, got %v", err)
		}
		if len(up.sources) != 1 {
			t.Fatalf("uploads after the required failure: %+v", up.sources)
		}
	})
	t.Run("later uploads are best effort", func(t *testing.T) {
		hook := test.NewGlobal()
		defer hook.Reset()

		up := &fakeUploader{failOn: map[string]bool{"b.txt": true}}
		out, err := New(up).Adapt(context.Background(), []Message{
			TextMessage("user", "file:///tmp/a.txt file:///tmp/b.txt"),
		}, nil)
		if err != nil {
			t.Fatalf("Adapt: %v", err)
		}
		if len(out[0].Attachments) != 1 || out[0].Attachments[0].Name != "a.txt" {
			t.Fatalf("only the successful upload should be attached: %+v", out[0].Attachments)
		}
		if out[0].Content != "file:///tmp/b.txt" {
			t.Fatalf("failed reference should stay in the text, got %q", out[0].Content)
		}
		if hook.LastEntry() == nil || hook.LastEntry().Level != log.WarnLevel {
			t.Fatal("expected a warning for the skipped upload")
		}
	})
}

func TestAdaptToolMessages(t *testing.T) {
	out, err := New(nil).Adapt(context.Background(), []Message{
		TextMessage("user", "weather?"),
		{Role: "assistant", ToolCalls: []ToolCallRef{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"NYC"}`}}},
		{Role: "tool", ToolCallID: "call_1", Parts: []ContentPart{TextPart("sunny")}},
	}, nil)
	if err != nil {
		t.Fatalf("Adapt: %v", err)
	}
	if !strings.Contains(out[1].Content, "<name>get_weather</name>") || out[1].Role != "bot" {
		t.Fatalf("assistant tool call not rendered: %+v", out[1])
	}
	if out[2].Role != "user" || out[2].Content != "Tool result (call_1):\nsunny" {
		t.Fatalf("tool result not rendered: %+v", out[2])
	}
}
