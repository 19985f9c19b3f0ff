// Package carsim is a small vehicle client used by tests (and a future
// demo CLI) to exercise a node agent's vehicle responder end to end,
// grounded on original_source/car_sim/car_client.py's dial/send/recv shape.
package carsim

import (
	"bufio"
	"context"
	"encoding/json"
	"net"

	"trafficfabric/internal/apperrors"
)

// Car is one simulated vehicle asking a node agent for its next hop toward
// Destination.
type Car struct {
	CarID       string
	Destination string
}

type nextEdgeRequest struct {
	Type        string `json:"type"`
	CarID       string `json:"car_id"`
	Destination string `json:"destination"`
}

// Reply is the decoded vehicle-responder response (§6: {"next_edge": id} or
// {"error": "NO_ROUTE"}).
type Reply struct {
	NextEdge string `json:"next_edge,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AskNode dials addr, sends one NEXT_EDGE request, and decodes the single
// reply, reproducing car_client.py's Car.ask_node() as one blocking call
// per connection (the wire protocol closes the connection after one
// exchange, so there's nothing to keep open between asks).
func (c Car) AskNode(ctx context.Context, addr string) (Reply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Reply{}, apperrors.Wrap(apperrors.KindStoreFailure, "dial node agent", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := nextEdgeRequest{Type: "NEXT_EDGE", CarID: c.CarID, Destination: c.Destination}
	data, err := json.Marshal(req)
	if err == nil {
		_, err = conn.Write(data)
	}
	if err != nil {
		return Reply{}, apperrors.Wrap(apperrors.KindStoreFailure, "send NEXT_EDGE request", err)
	}

	var reply Reply
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&reply); err != nil {
		return Reply{}, apperrors.Wrap(apperrors.KindStoreFailure, "decode vehicle responder reply", err)
	}
	return reply, nil
}
