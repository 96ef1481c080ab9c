package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/haatos/deplora/internal/store"
)

type Event struct {
	ID      []byte
	Data    []byte
	Event   []byte
	Retry   []byte
	Comment []byte
}

func newNotificationEvent(n store.Notification) (*Event, error) {
	b, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:    strconv.AppendInt(nil, n.PublishedOn.UnixMilli(), 10),
		Event: []byte(n.Kind),
		Data:  b,
	}, nil
}

// MarshalTo writes the event in text/event-stream framing. An event with
// neither data nor comment writes nothing.
func (ev *Event) MarshalTo(w io.Writer) error {
	if len(ev.Data) == 0 && len(ev.Comment) == 0 {
		return nil
	}

	if len(ev.Data) > 0 {
		if len(ev.ID) > 0 {
			if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
				return err
			}
		}
		if len(ev.Event) > 0 {
			if _, err := fmt.Fprintf(w, "event: %s\n", ev.Event); err != nil {
				return err
			}
		}
		if len(ev.Retry) > 0 {
			if _, err := fmt.Fprintf(w, "retry: %s\n", ev.Retry); err != nil {
				return err
			}
		}
		for line := range bytes.SplitSeq(ev.Data, []byte("\n")) {
			if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
				return err
			}
		}
	}

	if len(ev.Comment) > 0 {
		if _, err := fmt.Fprintf(w, ": %s\n", ev.Comment); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "\n")
	return err
}
