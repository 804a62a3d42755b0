package models

import "encoding/json"

// ResponseStatus mirrors the OpenAI responses API status values.
type ResponseStatus string

const (
	ResponseInProgress ResponseStatus = "in_progress"
	ResponseCompleted  ResponseStatus = "completed"
	ResponseFailed     ResponseStatus = "failed"
	ResponseCancelled  ResponseStatus = "cancelled"
)

// ResponseError is the error payload embedded in a failed ResponseObject.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ResponseUsage reports token accounting for a response.
type ResponseUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// OutputTextContent is one text content part of an output message.
type OutputTextContent struct {
	Type string `json:"type"` // always "output_text"
	Text string `json:"text"`
}

// OutputMessage is one assistant message in a response's output array.
type OutputMessage struct {
	Type    string              `json:"type"` // always "message"
	ID      string              `json:"id"`
	Status  string              `json:"status"` // "in_progress" or "completed"
	Role    string              `json:"role"`   // always "assistant"
	Content []OutputTextContent `json:"content"`
}

// ResponseObject is the /v1/responses wire object.
type ResponseObject struct {
	ID                 string          `json:"id"`
	Object             string          `json:"object"` // always "response"
	CreatedAt          int64           `json:"created_at"`
	Status             ResponseStatus  `json:"status"`
	Error              *ResponseError  `json:"error,omitempty"`
	Model              string          `json:"model"`
	Output             []OutputMessage `json:"output"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
	Temperature        *float32        `json:"temperature,omitempty"`
	ToolChoice         any             `json:"tool_choice,omitempty"`
	Tools              []ToolSchema    `json:"tools,omitempty"`
	Usage              *ResponseUsage  `json:"usage,omitempty"`
	User               string          `json:"user,omitempty"`
}

// Text returns the first output message's concatenated text.
func (r *ResponseObject) Text() string {
	if len(r.Output) == 0 {
		return ""
	}
	var out string
	for _, c := range r.Output[0].Content {
		out += c.Text
	}
	return out
}

// ResponseEvent is one SSE event on a streamed /v1/responses request.
// Only output-text and lifecycle events are emitted; tool-compilation
// artifacts and reasoning traces never appear here.
type ResponseEvent struct {
	Type           string          `json:"type"`
	SequenceNumber int             `json:"sequence_number"`
	Response       *ResponseObject `json:"response,omitempty"`
	ItemID         string          `json:"item_id,omitempty"`
	OutputIndex    *int            `json:"output_index,omitempty"`
	ContentIndex   *int            `json:"content_index,omitempty"`
	Delta          string          `json:"delta,omitempty"`
	Text           string          `json:"text,omitempty"`
	Error          *ResponseError  `json:"error,omitempty"`
}

// InputMessage is one element of a structured /v1/responses input array.
type InputMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// ResponseRequest is the recognized subset of a /v1/responses request body.
// Unknown fields are silently ignored by decoding into this struct.
type ResponseRequest struct {
	Model              string          `json:"model"`
	Input              json.RawMessage `json:"input"`
	Tools              []ToolSchema    `json:"tools,omitempty"`
	ToolChoice         any             `json:"tool_choice,omitempty"`
	Stream             bool            `json:"stream"`
	MaxOutputTokens    int             `json:"max_output_tokens,omitempty"`
	Temperature        *float32        `json:"temperature,omitempty"`
	PreviousResponseID string          `json:"previous_response_id,omitempty"`
}
