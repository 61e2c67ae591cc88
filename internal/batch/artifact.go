package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kubev2v/texbatch/internal/fileio"
)

const (
	// ChatCompletionsEndpoint is the batch service endpoint every request targets.
	ChatCompletionsEndpoint = "/v1/chat/completions"

	roleSystem = "system"
	roleUser   = "user"
	partText   = "text"
)

// Request is one line of the exchange artifact.
type Request struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     RequestBody `json:"body"`
}

// RequestBody mirrors a chat completion request.
type RequestBody struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ArtifactOptions holds the request fields shared by every line.
type ArtifactOptions struct {
	Model        string
	SystemPrompt string
}

// NewRequest converts a Task to its exchange line. The user message is split
// in two text parts, the prompt and the remainder of the payload, so that both
// can be restored exactly.
func NewRequest(opts ArtifactOptions, task Task) (Request, error) {
	if task.ID == "" {
		return Request{}, errors.New("task has no id")
	}
	if !strings.HasPrefix(task.Payload, task.Prompt) {
		return Request{}, fmt.Errorf("task %s: payload does not start with the prompt", task.ID)
	}

	return Request{
		CustomID: task.ID,
		Method:   "POST",
		URL:      ChatCompletionsEndpoint,
		Body: RequestBody{
			Model: opts.Model,
			Messages: []Message{
				{Role: roleSystem, Content: []ContentPart{{Type: partText, Text: opts.SystemPrompt}}},
				{Role: roleUser, Content: []ContentPart{
					{Type: partText, Text: task.Prompt},
					{Type: partText, Text: strings.TrimPrefix(task.Payload, task.Prompt)},
				}},
			},
		},
	}, nil
}

// Task restores the Task carried by the request.
func (r Request) Task() (Task, error) {
	if r.CustomID == "" {
		return Task{}, errors.New("request has no custom_id")
	}
	for _, m := range r.Body.Messages {
		if m.Role != roleUser {
			continue
		}
		if len(m.Content) == 0 {
			return Task{}, fmt.Errorf("request %s: empty user message", r.CustomID)
		}
		var payload strings.Builder
		for _, p := range m.Content {
			payload.WriteString(p.Text)
		}
		return Task{
			ID:      r.CustomID,
			Prompt:  m.Content[0].Text,
			Payload: payload.String(),
		}, nil
	}
	return Task{}, fmt.Errorf("request %s: no user message", r.CustomID)
}

// EncodeArtifact writes one JSON object per task, one per line.
func EncodeArtifact(w io.Writer, opts ArtifactOptions, tasks []Task) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, t := range tasks {
		req, err := NewRequest(opts, t)
		if err != nil {
			return err
		}
		if err := enc.Encode(req); err != nil {
			return fmt.Errorf("encoding task %s: %w", t.ID, err)
		}
	}
	return nil
}

// DecodeArtifact parses an exchange artifact back into Tasks. Blank lines are ignored.
func DecodeArtifact(r io.Reader) ([]Task, error) {
	br := bufio.NewReader(r)
	tasks := []Task{}
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var req Request
			if uerr := json.Unmarshal(line, &req); uerr != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, uerr)
			}
			task, terr := req.Task()
			if terr != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, terr)
			}
			tasks = append(tasks, task)
		}
		if err == io.EOF {
			return tasks, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteArtifact serializes the tasks and stores them at path.
func WriteArtifact(w *fileio.Writer, path string, opts ArtifactOptions, tasks []Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeArtifact(&buf, opts, tasks); err != nil {
		return nil, err
	}
	if err := w.WriteFile(path, buf.Bytes()); err != nil {
		return nil, fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return buf.Bytes(), nil
}
