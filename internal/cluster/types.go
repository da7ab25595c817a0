package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WriteRequest is the body of PUT /files/{name}.
type WriteRequest struct {
	Value   string `json:"value"`
	Version int    `json:"version"`
}

// FileResponse is a file's record as seen by one replica. Value is one of
// Values picked at random; Values has more than one entry when the replica
// holds an unreconciled conflict.
type FileResponse struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Values   []string `json:"values"`
	Version  int      `json:"version"`
	Conflict bool     `json:"conflict"`
}

// ReplicaInfo is one member's record in a LocationsResponse.
type ReplicaInfo struct {
	Error   string   `json:"error,omitempty"`
	Value   string   `json:"value"`
	Values  []string `json:"values"`
	Node    int      `json:"node"`
	Version int      `json:"version"`
}

type FileLocation struct {
	Name     string        `json:"name"`
	Replicas []ReplicaInfo `json:"replicas"`
	Origin   int           `json:"origin"`
}

// LocationsResponse is the body of GET /admin/filelocations.
type LocationsResponse struct {
	Files []FileLocation `json:"files"`
}

type NodeInfo struct {
	ID        int    `json:"id"`
	Available bool   `json:"available"`
	Files     int    `json:"files"`
	Conflicts int    `json:"conflicts"`
	Reads     uint64 `json:"reads"`
	Writes    uint64 `json:"writes"`
	Replicas  uint64 `json:"replicas"`
	Deletes   uint64 `json:"deletes"`
	Dropped   uint64 `json:"dropped"`
}

// NodesResponse is the body of GET /admin/nodes.
type NodesResponse struct {
	Nodes []NodeInfo `json:"nodes"`
}

// FilesResponse is the body of GET /admin/files.
type FilesResponse struct {
	Files []string `json:"files"`
}

// MembershipResponse is the body of GET /admin/files/{name}: placement
// metadata only, without touching any replica.
type MembershipResponse struct {
	Name    string `json:"name"`
	Members []int  `json:"members"`
	Origin  int    `json:"origin"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Nodes  int    `json:"nodes"`
}

type Adjustment struct {
	File    string `json:"file"`
	Added   []int  `json:"added,omitempty"`
	Removed []int  `json:"removed,omitempty"`
	Reads   int    `json:"reads"`
	Before  int    `json:"before"`
	Desired int    `json:"desired"`
}

// ReadBalanceResponse is the body of POST /admin/balance/read. Error is set
// when some files could not be adjusted; Adjustments still lists the rest.
type ReadBalanceResponse struct {
	Error       string       `json:"error,omitempty"`
	Adjustments []Adjustment `json:"adjustments"`
}

// ServerBalanceResponse is the body of POST /admin/balance/server.
type ServerBalanceResponse struct {
	File     string `json:"file,omitempty"`
	From     int    `json:"from"`
	To       int    `json:"to"`
	FromLoad int64  `json:"from_load"`
	ToLoad   int64  `json:"to_load"`
	Moved    bool   `json:"moved"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError is returned by the helpers below for a non-2xx reply.
type StatusError struct {
	URL     string
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.Code)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.Code, e.Message)
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

func doJSON(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		reqBody, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(reqBody)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		se := &StatusError{URL: url, Code: resp.StatusCode}
		var er ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil {
			se.Message = er.Error
		}
		return se
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func PostJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, http.MethodPost, url, body, out)
}

func PutJSON(ctx context.Context, url string, body any, out any) error {
	return doJSON(ctx, http.MethodPut, url, body, out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	return doJSON(ctx, http.MethodGet, url, nil, out)
}
