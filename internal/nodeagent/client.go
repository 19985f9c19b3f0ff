package nodeagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"trafficfabric/internal/apperrors"
	"trafficfabric/internal/routing"
)

// CoordinatorClient is the node agent's view of the coordinator's HTTP
// surface (§6): fetching a routing table and posting green-computation
// images. It is deliberately narrow — the node agent never mutates
// topology, only reads routing tables and triggers calculate_green.
type CoordinatorClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewCoordinatorClient builds a client against baseURL (e.g.
// "http://coordinator:8080").
func NewCoordinatorClient(baseURL string) *CoordinatorClient {
	return &CoordinatorClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

type getTableResponse struct {
	NodeID       string        `json:"node_id"`
	RoutingTable routing.Table `json:"routing_table"`
	GeneratedAt  time.Time     `json:"generated_at"`
}

// GetTable fetches nodeID's current routing table via GET /gettable/node/{id}/.
func (c *CoordinatorClient) GetTable(ctx context.Context, nodeID string) (routing.Table, error) {
	url := fmt.Sprintf("%s/gettable/node/%s/", c.BaseURL, nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "build get_table request", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "get_table request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.New(apperrors.KindStoreFailure, fmt.Sprintf("get_table: unexpected status %d", resp.StatusCode))
	}

	var out getTableResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "decode get_table response", err)
	}
	return out.RoutingTable, nil
}

// GreenSchedule is one outgoing edge's allocated green seconds, ordered as
// the coordinator listed them in edges_used (§4.7's schedule[i].green).
type GreenSchedule struct {
	EdgeID string
	Green  int
}

type calculateGreenResponse struct {
	GreenTimes map[string]int `json:"green_times"`
	EdgesUsed  []string       `json:"edges_used"`
}

// CalculateGreen posts images (edge_id -> raw bytes) to POST /green/{node_id}/
// as a multipart form and returns the resulting schedule ordered by
// edges_used, the order in which the coordinator processed the uploads.
func (c *CoordinatorClient) CalculateGreen(ctx context.Context, nodeID string, images map[string][]byte) ([]GreenSchedule, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for edgeID, data := range images {
		part, err := mw.CreateFormFile(edgeID, edgeID+".jpg")
		if err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreFailure, "build multipart part "+edgeID, err)
		}
		if _, err := part.Write(data); err != nil {
			return nil, apperrors.Wrap(apperrors.KindStoreFailure, "write multipart part "+edgeID, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "close multipart writer", err)
	}

	url := fmt.Sprintf("%s/green/%s/", c.BaseURL, nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "build calculate_green request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "calculate_green request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, apperrors.New(apperrors.KindDetectorFailure, fmt.Sprintf("calculate_green: status %d: %s", resp.StatusCode, msg))
	}

	var out calculateGreenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreFailure, "decode calculate_green response", err)
	}

	schedule := make([]GreenSchedule, 0, len(out.EdgesUsed))
	for _, edgeID := range out.EdgesUsed {
		schedule = append(schedule, GreenSchedule{EdgeID: edgeID, Green: out.GreenTimes[edgeID]})
	}
	return schedule, nil
}
