package docker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/pkg/jsonmessage"
	"golang.org/x/term"
)

// StreamResult is what a build or push stream reported.
type StreamResult struct {
	// ImageID is the build's aux ID, when present.
	ImageID string
	// Digest is the push's aux digest, when present.
	Digest string
}

// ReadStream renders a JSON message stream from the daemon to out and
// returns the first error message in it. A nil out discards the display.
func ReadStream(in io.Reader, out io.Writer) (StreamResult, error) {
	if out == nil {
		out = io.Discard
	}
	var fd uintptr
	isTerm := false
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		fd = f.Fd()
		isTerm = term.IsTerminal(int(fd))
	}

	var res StreamResult
	aux := func(msg jsonmessage.JSONMessage) {
		if msg.Aux == nil {
			return
		}
		var v struct {
			ID     string `json:"ID"`
			Digest string `json:"Digest"`
		}
		if err := json.Unmarshal(*msg.Aux, &v); err == nil {
			if v.ID != "" {
				res.ImageID = v.ID
			}
			if v.Digest != "" {
				res.Digest = v.Digest
			}
		}
	}

	err := jsonmessage.DisplayJSONMessagesStream(in, out, fd, isTerm, aux)
	if err != nil {
		var jerr *jsonmessage.JSONError
		if errors.As(err, &jerr) {
			return res, fmt.Errorf("daemon reported: %s", strings.TrimSpace(jerr.Message))
		}
		return res, fmt.Errorf("reading daemon stream: %w", err)
	}
	return res, nil
}
