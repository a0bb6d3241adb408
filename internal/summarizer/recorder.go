package summarizer

import (
	"time"

	"github.com/ibeckermayer/newsdigest/internal/store"
)

// Exchange is a prompt/response pair kept for debugging.
type Exchange struct {
	Timestamp time.Time `json:"timestamp"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Error     string    `json:"error,omitempty"`
}

// Recorder persists exchanges.
type Recorder interface {
	Record(ex Exchange) (string, error)
}

// BlobRecorder writes exchanges to llm/<timestamp>.json in a blob store.
type BlobRecorder struct {
	Blobs *store.BlobStore
}

// Record saves the exchange and returns its blob key.
func (r BlobRecorder) Record(ex Exchange) (string, error) {
	name := ex.Timestamp.UTC().Format("2006-01-02T15-04-05.000")
	return store.SaveJSON(r.Blobs, "llm", name, ex)
}

func record(p Options, provider, prompt, response string, callErr error) {
	if p.Recorder == nil {
		return
	}
	ex := Exchange{
		Timestamp: time.Now(),
		Provider:  provider,
		Model:     p.Model,
		Prompt:    prompt,
		Response:  response,
	}
	if callErr != nil {
		ex.Error = callErr.Error()
	}
	if key, err := p.Recorder.Record(ex); err != nil {
		p.log().Warn("failed to record LLM exchange", "error", err)
	} else {
		p.log().Debug("recorded LLM exchange", "key", key)
	}
}
