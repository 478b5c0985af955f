package api

// Params keeps transcription form fields
type Params struct {
	Model          string
	Prompt         string
	ResponseFormat string
}

// Response of the transcriptions endpoint
type Response struct {
	Text       string `json:"text,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

// GetText returns the first non empty text field
func (r *Response) GetText() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Transcript
}
