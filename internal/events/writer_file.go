package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// FileWriter appends every event to a file, one JSON document per line.
type FileWriter struct {
	lock sync.Mutex
	file *os.File
}

func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening events file: %w", err)
	}
	return &FileWriter{file: f}, nil
}

func (w *FileWriter) Write(_ context.Context, _ string, e cloudevents.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	w.lock.Lock()
	defer w.lock.Unlock()
	_, err = w.file.Write(append(data, '\n'))
	return err
}

func (w *FileWriter) Close(_ context.Context) error {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.file.Close()
}

// NewWriter returns the writer for sink: "stdout" logs the events, any
// other value is a file path.
func NewWriter(sink string) (Writer, error) {
	if sink == "stdout" {
		return &StdoutWriter{}, nil
	}
	return NewFileWriter(sink)
}
