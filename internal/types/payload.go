// internal/types/payload.go
package types

import (
	"encoding/json"
	"errors"
)

// Status update payloads exchanged with the store frontend. Responses are
// internally tagged ({"type": "Update", ...}); the Update and Download
// requests sent by the frontend are externally tagged ({"Update": {...}}).
// Both shapes are fixed protocol surface.

// ErrUnknownPayload marks an inbound payload that is not one of the known
// request variants. Unknown payloads are ignored, never treated as fatal;
// in particular the bot's own responses echo back through the status update
// stream and fail to decode as requests, which is how they get dropped.
var ErrUnknownPayload = errors.New("unknown payload")

// Envelope is the outer wrapper every status update travels in.
type Envelope struct {
	Payload json.RawMessage `json:"payload"`
}

// Request is an inbound payload variant from the frontend.
type Request interface {
	isRequest()
}

// UpdateRequest asks for the catalog as seen from the given serial.
type UpdateRequest struct {
	Serial int64 `json:"serial"`
}

// DownloadRequest asks for the bundle bytes of one app.
type DownloadRequest struct {
	AppID AppID `json:"app_id"`
}

// UpdateWebxdcRequest asks the bot to re-deliver the store frontend bundle.
type UpdateWebxdcRequest struct{}

func (*UpdateRequest) isRequest()       {}
func (*DownloadRequest) isRequest()     {}
func (*UpdateWebxdcRequest) isRequest() {}

// DecodeRequest parses an inbound payload into one of the request variants.
// Returns ErrUnknownPayload for anything else.
func DecodeRequest(raw json.RawMessage) (Request, error) {
	var probe struct {
		Update   *UpdateRequest   `json:"Update"`
		Download *DownloadRequest `json:"Download"`
		Type     string           `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, ErrUnknownPayload
	}
	switch {
	case probe.Update != nil:
		return probe.Update, nil
	case probe.Download != nil:
		return probe.Download, nil
	case probe.Type == "UpdateWebxdc":
		return &UpdateWebxdcRequest{}, nil
	}
	return nil, ErrUnknownPayload
}

// UpdateResponse carries the full catalog snapshot at the given serial.
// The protocol resends the complete list rather than a true delta.
type UpdateResponse struct {
	Type     string    `json:"type"`
	AppInfos []AppInfo `json:"app_infos"`
	Serial   int64     `json:"serial"`
}

// DownloadOkayResponse carries one bundle, base64-encoded.
type DownloadOkayResponse struct {
	Type string `json:"type"`
	ID   AppID  `json:"id"`
	Name string `json:"name"`
	Data string `json:"data"`
}

// DownloadErrorResponse reports an unknown app id.
type DownloadErrorResponse struct {
	Type string `json:"type"`
	ID   AppID  `json:"id"`
}

// OutdatedResponse tells the frontend its own bundle is stale. Critical
// means the frontend must block further interaction until updated.
type OutdatedResponse struct {
	Type     string `json:"type"`
	Critical bool   `json:"critical"`
	Version  string `json:"version"`
}

// UpdateSentResponse confirms the refreshed frontend bundle was delivered.
type UpdateSentResponse struct {
	Type string `json:"type"`
}

func NewUpdateResponse(apps []AppInfo, serial int64) UpdateResponse {
	if apps == nil {
		apps = []AppInfo{}
	}
	return UpdateResponse{Type: "Update", AppInfos: apps, Serial: serial}
}

func NewDownloadOkay(id AppID, name, data string) DownloadOkayResponse {
	return DownloadOkayResponse{Type: "DownloadOkay", ID: id, Name: name, Data: data}
}

func NewDownloadError(id AppID) DownloadErrorResponse {
	return DownloadErrorResponse{Type: "DownloadError", ID: id}
}

func NewOutdated(version string) OutdatedResponse {
	return OutdatedResponse{Type: "Outdated", Critical: true, Version: version}
}

func NewUpdateSent() UpdateSentResponse {
	return UpdateSentResponse{Type: "UpdateSent"}
}
