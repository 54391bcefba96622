package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// NodeInfo identifies a worker process.
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
	Rank int    `json:"rank"`
}

// RegisterRequest is sent by a worker to join the group.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// RegisterResponse tells a worker the rank it was given.
type RegisterResponse struct {
	Rank      int `json:"rank"`
	GroupSize int `json:"group_size"`
}

// JobSpec are the parameters of a batch run over a range of grid sizes.
type JobSpec struct {
	Engine string `json:"engine,omitempty"`
	MinPow int    `json:"min_pow"`
	MaxPow int    `json:"max_pow"`
	Lanes  int    `json:"lanes"`
}

// JobControl starts a job on one worker. Peers lists every worker's base
// address indexed by rank. A worker gives up on the job at Deadline even if
// no abort reaches it.
type JobControl struct {
	Deadline time.Time `json:"deadline"`
	JobID    string    `json:"job_id"`
	Peers    []string  `json:"peers"`
	Spec     JobSpec   `json:"spec"`
	Rank     int       `json:"rank"`
}

// AbortRequest tells a worker to abandon a job.
type AbortRequest struct {
	JobID  string `json:"job_id"`
	Reason string `json:"reason"`
}

// HaloMessage carries one boundary row between two workers.
type HaloMessage struct {
	JobID string `json:"job_id"`
	Row   []byte `json:"row"`
	Tag   int64  `json:"tag"`
	From  int    `json:"from"`
}

// ReduceRequest is one rank's contribution to a collective reduction.
type ReduceRequest struct {
	JobID string `json:"job_id"`
	Op    string `json:"op"`
	Seq   int64  `json:"seq"`
	Value int64  `json:"value"`
	Rank  int    `json:"rank"`
	Size  int    `json:"size"`
}

// ReduceResponse carries the combined value back to every rank.
type ReduceResponse struct {
	Value int64 `json:"value"`
}

// SizeResult is the outcome of one grid size, with phase timings in seconds.
type SizeResult struct {
	Size       int     `json:"size"`
	Correct    bool    `json:"correct"`
	Setup      float64 `json:"setup"`
	Compute    float64 `json:"compute"`
	Validation float64 `json:"validation"`
	Total      float64 `json:"total"`
}

// ResultReport is posted by each worker when its part of a job ends.
type ResultReport struct {
	JobID   string       `json:"job_id"`
	Error   string       `json:"error,omitempty"`
	Results []SizeResult `json:"results"`
	Rank    int          `json:"rank"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// longPollClient has no overall timeout: collective calls park on the
// coordinator until every rank arrives and are bounded by the caller's ctx.
var longPollClient = &http.Client{}

// PostJSON posts body as JSON and decodes the reply into out (if non-nil).
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return postJSON(ctx, httpClient, url, body, out)
}

// PostJSONLong is PostJSON without a client-side timeout.
func PostJSONLong(ctx context.Context, url string, body any, out any) error {
	return postJSON(ctx, longPollClient, url, body, out)
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
