package bridge

import (
	"bufio"
	"io"
	"strings"
)

const maxFrameSize = 1 << 20

type sseFrame struct {
	ID    string
	Event string
	Data  string
}

// readFrames splits a server-sent-event stream into frames.
func readFrames(r io.Reader, handle func(sseFrame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	var frame sseFrame
	var data []string
	dispatch := func() error {
		if frame.ID == "" && frame.Event == "" && len(data) == 0 {
			return nil
		}
		frame.Data = strings.Join(data, "\n")
		err := handle(frame)
		frame = sseFrame{}
		data = data[:0]
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "id":
			frame.ID = value
		case "event":
			frame.Event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return dispatch()
}
