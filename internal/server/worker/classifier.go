package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dmitrijs2005/classifyd/internal/common"
	"github.com/dmitrijs2005/classifyd/internal/netx"
)

// Classifier maps file content to a result code.
type Classifier interface {
	Classify(ctx context.Context, content []byte) (int, error)
}

// HTTPClassifier calls a model server that answers {"class": <n>}.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPClassifier(url string, client *http.Client) *HTTPClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClassifier{url: url, client: client}
}

type classifyResponse struct {
	Class *int `json:"class"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, content []byte) (int, error) {
	body, err := netx.PostBytes(ctx, c.client, c.url, content)
	if err != nil {
		return 0, &common.ClassificationError{Reason: "classifier request failed", Err: err}
	}

	var resp classifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &common.ClassificationError{Reason: "bad classifier response", Err: err}
	}
	if resp.Class == nil {
		return 0, &common.ClassificationError{Reason: "bad classifier response", Err: fmt.Errorf("no class in %q", body)}
	}

	return *resp.Class, nil
}
