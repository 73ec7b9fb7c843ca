package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"palchat/internal/models"
)

var (
	frameBoundary = []byte("\n\n")
	crlf          = []byte("\r\n")
	lf            = []byte("\n")
)

// Decoder reassembles event frames from arbitrarily split body chunks. The
// unterminated tail of the input is carried over to the next Feed and is never
// emitted on its own.
type Decoder struct {
	buf []byte
}

// Feed appends chunk and returns the data payloads of every frame completed by
// it, in order. Frames without data lines are dropped.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)
	if bytes.Contains(d.buf, crlf) {
		d.buf = bytes.ReplaceAll(d.buf, crlf, lf)
	}

	var payloads []string
	for {
		idx := bytes.Index(d.buf, frameBoundary)
		if idx < 0 {
			break
		}
		frame := string(d.buf[:idx])
		d.buf = d.buf[idx+len(frameBoundary):]
		if data, ok := frameData(frame); ok {
			payloads = append(payloads, data)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return payloads
}

// Pending returns the number of buffered bytes not yet terminated by a boundary.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

func frameData(frame string) (string, bool) {
	var lines []string
	for _, line := range strings.Split(frame, "\n") {
		if strings.HasPrefix(line, ":") {
			continue
		}
		value, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		lines = append(lines, strings.TrimPrefix(value, " "))
	}
	if len(lines) == 0 {
		return "", false
	}
	return strings.Join(lines, "\n"), true
}

// parseEvent decodes one frame payload. Unknown or missing discriminants yield
// an ErrorEvent; only unparseable payloads return an error.
func parseEvent(payload string) (models.StreamEvent, error) {
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("invalid json: %.80q", payload)
	}
	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return nil, fmt.Errorf("frame is not an object: %.80q", payload)
	}

	typ := doc.Get("type").String()
	switch models.EventType(typ) {
	case models.EventStatus:
		var ev models.StatusEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case models.EventResponse:
		var ev models.ResponseEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case models.EventInterrupt:
		var ev models.InterruptEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		msg := doc.Get("message").String()
		if msg == "" {
			msg = fmt.Sprintf("unexpected event type %q", typ)
		}
		return models.ErrorEvent{Type: models.EventError, Message: msg}, nil
	}
}
