package rm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/iklop007/galaxytx/pkg/store"
)

// httpOperationRequest is the JSON body posted to a participant's
// /transaction/confirm or /transaction/cancel endpoint.
type httpOperationRequest struct {
	XID          string          `json:"xid"`
	BranchID     int64           `json:"branchId"`
	Operation    string          `json:"operation"`
	Timestamp    int64           `json:"timestamp"`
	ServiceGroup string          `json:"serviceGroup"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
}

// HTTPHandler implements rm.Handler for webhook-style participants: commit
// and rollback are POSTs to the resourceId's base URL plus
// /transaction/confirm or /transaction/cancel, carrying the branch identity
// in both headers and JSON body.
type HTTPHandler struct {
	client *http.Client
}

// NewHTTPHandler builds the HTTP rm.Handler. A nil client gets a default
// with a 10s timeout.
func NewHTTPHandler(client *http.Client) *HTTPHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPHandler{client: client}
}

func (h *HTTPHandler) Commit(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	return h.post(ctx, b, "confirm")
}

func (h *HTTPHandler) Rollback(ctx context.Context, b *store.BranchTransaction) CommunicationResult {
	return h.post(ctx, b, "cancel")
}

func (h *HTTPHandler) post(ctx context.Context, b *store.BranchTransaction, operation string) CommunicationResult {
	body := httpOperationRequest{
		XID:          b.XID,
		BranchID:     b.BranchID,
		Operation:    operation,
		Timestamp:    time.Now().UnixMilli(),
		ServiceGroup: b.ResourceGroupID,
	}
	if len(b.ApplicationData) != 0 {
		body.Parameters = json.RawMessage(b.ApplicationData)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return CommunicationResult{Status: ProtocolError, Err: err}
	}

	url := b.ResourceID + "/transaction/" + operation
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return CommunicationResult{Status: ProtocolError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Transaction-ID", b.XID)
	req.Header.Set("X-Branch-ID", strconv.FormatInt(b.BranchID, 10))
	req.Header.Set("X-Service-Group", b.ResourceGroupID)

	resp, err := h.client.Do(req)
	if err != nil {
		return CommunicationResult{Status: NetworkError, Err: err}
	}
	defer resp.Body.Close()

	return classifyHTTPStatus(resp.StatusCode)
}

// classifyHTTPStatus maps a participant's response code to a
// CommunicationResult per the dispatch table: 2xx succeeds; 401/403 are
// non-retryable auth failures; 404 is a retryable resource-not-ready;
// 408/504 are retryable timeouts; 409 is a non-retryable conflict; other
// 4xx are non-retryable; 5xx are retryable.
func classifyHTTPStatus(code int) CommunicationResult {
	switch {
	case code >= 200 && code < 300:
		return CommunicationResult{Status: Success}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return CommunicationResult{Status: AuthError, Err: fmt.Errorf("rm/http: status %d", code)}
	case code == http.StatusNotFound:
		return CommunicationResult{Status: ResourceError, Err: fmt.Errorf("rm/http: status %d", code)}
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return CommunicationResult{Status: Timeout, Err: fmt.Errorf("rm/http: status %d", code)}
	case code == http.StatusConflict:
		return CommunicationResult{Status: Failure, Err: fmt.Errorf("rm/http: status %d", code)}
	case code >= 400 && code < 500:
		return CommunicationResult{Status: NonRetryableError, Err: fmt.Errorf("rm/http: status %d", code)}
	case code >= 500:
		return CommunicationResult{Status: RetryableError, Err: fmt.Errorf("rm/http: status %d", code)}
	default:
		return CommunicationResult{Status: UnknownResult, Err: fmt.Errorf("rm/http: status %d", code)}
	}
}
