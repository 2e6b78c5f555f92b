package notification

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatusContent is CoAP 2.05 Content in async response notation.
const StatusContent = 205

// AsyncResponse is the outcome of a device-initiated action, delivered to
// the callback or held until pulled.
type AsyncResponse struct {
	ID        string `json:"id"`
	Status    int    `json:"status"`
	Timestamp int64  `json:"timestamp"`

	// Payload is the base64 encoded SenML JSON of the changed resources.
	Payload string `json:"payload"`

	Endpoint string `json:"endpoint,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Envelope is the JSON body of pushed notifications and of the pull endpoint.
type Envelope struct {
	AsyncResponses []AsyncResponse `json:"async-responses"`
}

// NewAsyncResponse builds a response for a resource change on endpoint.
func NewAsyncResponse(endpoint, path string, status int, payload []byte, at time.Time) AsyncResponse {
	return AsyncResponse{
		ID:        newResponseID(at),
		Status:    status,
		Timestamp: at.Unix(),
		Payload:   base64.StdEncoding.EncodeToString(payload),
		Endpoint:  endpoint,
		Path:      path,
	}
}

// StatusFromCoAP renders a CoAP response code as class*100+detail, so
// 2.05 becomes 205 and 4.04 becomes 404.
func StatusFromCoAP(code uint8) int {
	return int(code>>5)*100 + int(code&0x1f)
}

// newResponseID returns "<unix seconds>#xxxx-xx-xx-xx-xx" with random hex.
func newResponseID(at time.Time) string {
	u := uuid.New()
	return fmt.Sprintf("%d#%02x%02x-%02x-%02x-%02x-%02x", at.Unix(), u[0], u[1], u[2], u[3], u[4], u[5])
}
