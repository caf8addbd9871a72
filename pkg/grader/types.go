package grader

import "encoding/json"

// completionRequest is the payload the grading service expects. The model
// field carries the assistant reference, e.g. "lamb_assistant.42".
type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ResponseShape labels which of the known wire formats a grader reply used.
// The service has shipped several over time and deployments lag behind, so
// the client accepts all of them.
type ResponseShape string

const (
	ShapeOpenAIChat   ResponseShape = "openai_chat"
	ShapeOpenAILegacy ResponseShape = "openai_legacy"
	ShapeFlatContent  ResponseShape = "flat_content"
	ShapeFlatText     ResponseShape = "flat_text"
	ShapeUnknown      ResponseShape = "unknown"
)

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Content string `json:"content"`
	Text    string `json:"text"`
}

// decodeReply extracts the assistant text from any of the accepted shapes.
// It reports which shape matched so callers can log drift in the upstream API.
func decodeReply(raw []byte) (string, ResponseShape, error) {
	var reply completionResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", ShapeUnknown, err
	}

	if len(reply.Choices) > 0 {
		if content := reply.Choices[0].Message.Content; content != "" {
			return content, ShapeOpenAIChat, nil
		}
		if text := reply.Choices[0].Text; text != "" {
			return text, ShapeOpenAILegacy, nil
		}
	}
	if reply.Content != "" {
		return reply.Content, ShapeFlatContent, nil
	}
	if reply.Text != "" {
		return reply.Text, ShapeFlatText, nil
	}

	return "", ShapeUnknown, nil
}
