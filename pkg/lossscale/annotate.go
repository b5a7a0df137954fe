package lossscale

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Annotation is attached to each record under "loss_scale".
type Annotation struct {
	Parts   []string  `json:"parts"`
	Weights []float64 `json:"weights"`
}

type turn struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Annotate copies JSON-lines SFT records from r to w, adding a "loss_scale"
// field computed from each record's final assistant turn. Records without a
// final assistant turn are copied unchanged. It returns the number of
// records annotated.
func Annotate(r io.Reader, w io.Writer) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64<<20)
	bw := bufio.NewWriter(w)

	annotated, line := 0, 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}

		var record map[string]json.RawMessage
		if err := json.Unmarshal(text, &record); err != nil {
			return annotated, errors.Wrapf(err, "line %d", line)
		}
		out, ok, err := annotateRecord(record)
		if err != nil {
			return annotated, errors.Wrapf(err, "line %d", line)
		}
		if !ok {
			out = text
		} else {
			annotated++
		}
		if _, err := bw.Write(append(out, '\n')); err != nil {
			return annotated, err
		}
	}
	if err := scanner.Err(); err != nil {
		return annotated, errors.Wrap(err, "reading records")
	}
	return annotated, bw.Flush()
}

func annotateRecord(record map[string]json.RawMessage) ([]byte, bool, error) {
	raw, ok := record["messages"]
	if !ok {
		return nil, false, nil
	}
	var turns []turn
	if err := json.Unmarshal(raw, &turns); err != nil {
		return nil, false, fmt.Errorf("decoding messages: %w", err)
	}
	if len(turns) == 0 {
		return nil, false, nil
	}
	last := turns[len(turns)-1]
	if last.Role != "assistant" || last.Content == nil {
		return nil, false, nil
	}

	parts, weights := CalculateLossScale(*last.Content)
	encoded, err := json.Marshal(Annotation{Parts: parts, Weights: weights})
	if err != nil {
		return nil, false, err
	}
	record["loss_scale"] = encoded

	out, err := json.Marshal(record)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
