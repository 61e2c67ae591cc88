package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kubev2v/texbatch/internal/batch"
)

const (
	// PurposeBatch tags uploaded files as batch input.
	PurposeBatch = "batch"

	opUpload  = "uploading batch file"
	opCreate  = "creating batch job"
	opGet     = "reading batch job"
	opResults = "retrieving batch results"
)

// FileObject is the response to a file upload.
type FileObject struct {
	ID       string `json:"id" validate:"required"`
	Filename string `json:"filename,omitempty"`
	Purpose  string `json:"purpose,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
}

// BatchRequest creates a batch job from an uploaded file.
type BatchRequest struct {
	InputFileID      string            `json:"input_file_id"`
	Endpoint         string            `json:"endpoint"`
	CompletionWindow string            `json:"completion_window"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// BatchObject is a batch job as reported by the service.
type BatchObject struct {
	ID           string       `json:"id" validate:"required"`
	Status       batch.Status `json:"status" validate:"required"`
	InputFileID  string       `json:"input_file_id,omitempty"`
	OutputFileID string       `json:"output_file_id,omitempty"`
	ErrorFileID  string       `json:"error_file_id,omitempty"`
}

type resultList struct {
	Data []resultItem `json:"data" validate:"required"`
}

type resultItem struct {
	CustomID string      `json:"custom_id"`
	Body     *resultBody `json:"body"`
	Error    *itemError  `json:"error"`
}

type resultBody struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type itemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchClient talks to the remote batch service.
type BatchClient struct {
	config     *Config
	httpClient *http.Client
	validate   *validator.Validate
}

func NewBatchClient(config *Config) (*BatchClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &BatchClient{
		config:     config,
		httpClient: NewHTTPClientFromConfig(config),
		validate:   validator.New(),
	}, nil
}

// UploadFile sends the artifact as multipart form data with purpose=batch.
func (c *BatchClient) UploadFile(ctx context.Context, name string, content io.Reader) (*FileObject, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("purpose", PurposeBatch); err != nil {
		return nil, fmt.Errorf("writing purpose field: %w", err)
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copying file into multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	var file FileObject
	if err := c.do(ctx, opUpload, http.MethodPost, "/files", mw.FormDataContentType(), &buf, &file); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&file); err != nil {
		return nil, &ProtocolError{Op: opUpload, Reason: "missing file id", Err: err}
	}
	return &file, nil
}

// CreateBatch creates the job. It is never retried.
func (c *BatchClient) CreateBatch(ctx context.Context, req BatchRequest) (*BatchObject, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var obj BatchObject
	if err := c.do(ctx, opCreate, http.MethodPost, "/batches", "application/json", bytes.NewReader(body), &obj); err != nil {
		return nil, err
	}
	if err := c.validate.StructPartial(&obj, "ID"); err != nil {
		return nil, &ProtocolError{Op: opCreate, Reason: "missing batch id", Err: err}
	}
	return &obj, nil
}

// GetBatch reads the current state of the job.
func (c *BatchClient) GetBatch(ctx context.Context, id string) (*BatchObject, error) {
	var obj BatchObject
	if err := c.do(ctx, opGet, http.MethodGet, "/batches/"+url.PathEscape(id), "", nil, &obj); err != nil {
		return nil, err
	}
	if err := c.validate.StructPartial(&obj, "Status"); err != nil {
		return nil, &ProtocolError{Op: opGet, Reason: "missing status", Err: err}
	}
	if obj.ID == "" {
		obj.ID = id
	}
	return &obj, nil
}

// JobStatus implements batch.StatusGetter.
func (c *BatchClient) JobStatus(ctx context.Context, id string) (batch.Status, error) {
	obj, err := c.GetBatch(ctx, id)
	if err != nil {
		return "", err
	}
	return obj.Status, nil
}

// GetResults returns one Result per item reported by the service. Items the
// service marked as failed carry their error message instead of content.
func (c *BatchClient) GetResults(ctx context.Context, id string) ([]batch.Result, error) {
	var list resultList
	if err := c.do(ctx, opResults, http.MethodGet, "/batches/"+url.PathEscape(id)+"/results", "", nil, &list); err != nil {
		return nil, err
	}
	if err := c.validate.Struct(&list); err != nil {
		return nil, &ProtocolError{Op: opResults, Reason: "missing data", Err: err}
	}

	results := make([]batch.Result, 0, len(list.Data))
	for i, item := range list.Data {
		if item.CustomID == "" {
			return nil, &ProtocolError{Op: opResults, Reason: fmt.Sprintf("item %d has no custom_id", i)}
		}
		switch {
		case item.Error != nil:
			results = append(results, batch.Result{
				TaskID: item.CustomID,
				Error:  strings.TrimSpace(item.Error.Code + " " + item.Error.Message),
			})
		case item.Body != nil && len(item.Body.Choices) > 0:
			results = append(results, batch.Result{
				TaskID:  item.CustomID,
				Content: strings.TrimSpace(item.Body.Choices[0].Message.Content),
			})
		default:
			return nil, &ProtocolError{Op: opResults, Reason: fmt.Sprintf("item %s has neither choices nor error", item.CustomID)}
		}
	}
	return results, nil
}

func (c *BatchClient) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.config.baseURL()+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return &ProtocolError{Op: op, Reason: "invalid JSON", Err: err}
	}
	return nil
}
