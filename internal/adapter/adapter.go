package adapter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/poeproxy/poe-openai-proxy/internal/logging"
	"github.com/poeproxy/poe-openai-proxy/internal/poe"
	"github.com/poeproxy/poe-openai-proxy/internal/upload"
	log "github.com/sirupsen/logrus"
)

// Uploader stores file bytes and returns an attachment handle. *upload.Service satisfies it.
type Uploader interface {
	Upload(ctx context.Context, src upload.Source) (poe.Attachment, error)
}

// fileRefPattern matches markdown links to file:// URIs and bare file:// URIs.
var fileRefPattern = regexp.MustCompile(`\[.*?\]\((file://.*?)\)|(file://[^\s\)]+)`)

// Adapter converts conversations. It holds no per-request state.
type Adapter struct {
	uploader Uploader
}

// New returns an Adapter that sends file bytes to uploader.
func New(uploader Uploader) *Adapter {
	return &Adapter{uploader: uploader}
}

// uploadState tracks uploads within one Adapt call. The first upload is
// required; later failures are logged and skipped.
type uploadState struct {
	attempts int
}

// Adapt converts messages into protocol messages. Attachments found in the
// conversation, followed by explicit, are attached to the last user message.
// The output always has one entry per input message.
func (a *Adapter) Adapt(ctx context.Context, messages []Message, explicit []poe.Attachment) ([]poe.ProtocolMessage, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyConversation
	}
	entry := logging.Entry(ctx)

	state := &uploadState{}
	out := make([]poe.ProtocolMessage, 0, len(messages))
	var attachments []poe.Attachment
	for i, msg := range messages {
		text, found, err := a.flatten(ctx, state, msg)
		if err != nil {
			return nil, err
		}
		text, embedded, err := a.extractFileRefs(ctx, state, text)
		if err != nil {
			return nil, err
		}
		found = append(found, embedded...)
		if len(found) > 0 {
			entry.Debugf("message %d: %d attachment(s) discovered", i, len(found))
		}
		attachments = append(attachments, found...)
		out = append(out, poe.ProtocolMessage{
			Role:        poeRole(msg.Role),
			Content:     decorate(msg, text),
			ContentType: "text/markdown",
		})
	}
	attachments = append(attachments, explicit...)
	if len(attachments) == 0 {
		return out, nil
	}

	target := len(out) - 1
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].Role == poe.RoleUser {
			target = i
			break
		}
	}
	if out[target].Role != poe.RoleUser {
		entry.WithFields(log.Fields{
			"attachments": len(attachments),
			"target_role": out[target].Role,
		}).Warn("no user message found, adding attachments to last message")
	}
	out[target].Attachments = attachments
	return out, nil
}

func (a *Adapter) flatten(ctx context.Context, state *uploadState, msg Message) (string, []poe.Attachment, error) {
	var (
		lines []string
		found []poe.Attachment
	)
	for _, part := range msg.Parts {
		switch part.Kind {
		case PartText:
			lines = append(lines, part.Text)
		case PartImage:
			url := strings.TrimSpace(part.URL)
			switch {
			case strings.HasPrefix(url, "data:"):
				src, err := upload.DataURLSource(url)
				if err != nil {
					if errFatal := a.failed(ctx, state, "image data URL", err); errFatal != nil {
						return "", nil, errFatal
					}
					continue
				}
				att, ok, err := a.upload(ctx, state, src)
				if err != nil {
					return "", nil, err
				}
				if ok {
					found = append(found, att)
				}
			case strings.HasPrefix(url, "file://"):
				src, err := upload.FileURLSource(url)
				if err != nil {
					if errFatal := a.failed(ctx, state, url, err); errFatal != nil {
						return "", nil, errFatal
					}
					continue
				}
				att, ok, err := a.upload(ctx, state, src)
				if err != nil {
					return "", nil, err
				}
				if ok {
					found = append(found, att)
				}
			default:
				lines = append(lines, fmt.Sprintf("[Image: %s]", url))
			}
		}
	}
	return strings.Join(lines, "\n"), found, nil
}

// extractFileRefs removes file:// references from text and uploads them in
// textual order, so the first reference is the first upload attempt.
func (a *Adapter) extractFileRefs(ctx context.Context, state *uploadState, text string) (string, []poe.Attachment, error) {
	matches := fileRefPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil, nil
	}
	var (
		found   []poe.Attachment
		removed [][]int
	)
	for _, m := range matches {
		var uri string
		switch {
		case m[2] >= 0:
			uri = text[m[2]:m[3]]
		case m[4] >= 0:
			uri = text[m[4]:m[5]]
		}
		if uri == "" {
			continue
		}
		src, err := upload.FileURLSource(uri)
		if err != nil {
			if errFatal := a.failed(ctx, state, uri, err); errFatal != nil {
				return "", nil, errFatal
			}
			continue
		}
		att, ok, err := a.upload(ctx, state, src)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			continue
		}
		removed = append(removed, m)
		found = append(found, att)
	}
	// Cut from the end so earlier offsets stay valid.
	for i := len(removed) - 1; i >= 0; i-- {
		text = text[:removed[i][0]] + text[removed[i][1]:]
	}
	return strings.TrimSpace(text), found, nil
}

// upload returns ok=false for a skipped non-required failure.
func (a *Adapter) upload(ctx context.Context, state *uploadState, src upload.Source) (poe.Attachment, bool, error) {
	if a.uploader == nil {
		return poe.Attachment{}, false, a.failed(ctx, state, src.Name, fmt.Errorf("no uploader configured"))
	}
	state.attempts++
	att, err := a.uploader.Upload(ctx, src)
	if err != nil {
		return poe.Attachment{}, false, a.failedAttempt(ctx, state.attempts == 1, src.Name, err)
	}
	return att, true, nil
}

func (a *Adapter) failed(ctx context.Context, state *uploadState, what string, err error) error {
	state.attempts++
	return a.failedAttempt(ctx, state.attempts == 1, what, err)
}

func (a *Adapter) failedAttempt(ctx context.Context, required bool, what string, err error) error {
	if required {
		return &Error{Message: fmt.Sprintf("Failed to process attachment %s: %v", what, err), Err: err}
	}
	logging.Entry(ctx).WithField("error", err).Warnf("skipping attachment %s", what)
	return nil
}

func poeRole(role string) string {
	switch strings.ToLower(role) {
	case "assistant":
		return poe.RoleBot
	case "system":
		return poe.RoleSystem
	}
	return poe.RoleUser
}

// decorate adds tool context that has no protocol equivalent: tool results
// are labelled, and earlier assistant calls are rendered in the inline syntax.
func decorate(msg Message, text string) string {
	switch strings.ToLower(msg.Role) {
	case "tool":
		id := msg.ToolCallID
		if id == "" {
			id = msg.Name
		}
		return fmt.Sprintf("Tool result (%s):\n%s", id, text)
	case "assistant":
		if len(msg.ToolCalls) == 0 {
			return text
		}
		var b strings.Builder
		b.WriteString(text)
		for _, call := range msg.ToolCalls {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "<tool_call>\n<name>%s</name>\n<arguments>%s</arguments>\n</tool_call>", call.Name, call.Arguments)
		}
		return b.String()
	}
	return text
}
