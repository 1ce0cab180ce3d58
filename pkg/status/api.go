// Package status implements a local JSON-over-socket API for
// inspecting a running dataset Channel and, when swarm participation
// is enabled, the local swarm node's peer view.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/nosqlbench/vecstore/pkg/store"
	"github.com/nosqlbench/vecstore/pkg/swarm"
)

// Request is one control-socket call.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response answers a Request.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Server answers status queries about one or more open Channels and,
// optionally, a local swarm Node.
type Server struct {
	mu       sync.RWMutex
	channels map[string]*store.Channel // datasetID -> channel
	node     *swarm.Node
}

// NewServer creates a status server with no channels registered yet;
// call Register as datasets are opened.
func NewServer(node *swarm.Node) *Server {
	return &Server{
		channels: make(map[string]*store.Channel),
		node:     node,
	}
}

// Register makes datasetID's Channel visible to datasets.list and
// datasets.stats queries.
func (s *Server) Register(datasetID string, ch *store.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[datasetID] = ch
}

// Unregister drops a dataset from view, typically once its Channel is
// closed.
func (s *Server) Unregister(datasetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, datasetID)
}

// Serve accepts and handles connections on listener until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var req Request
			if err := decoder.Decode(&req); err != nil {
				return
			}
			if err := encoder.Encode(s.handleRequest(req)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleRequest(req Request) Response {
	switch req.Method {
	case "datasets.list":
		return s.handleDatasetsList(req)
	case "datasets.stats":
		return s.handleDatasetStats(req)
	case "swarm.peers":
		return s.handleSwarmPeers(req)
	default:
		return Response{ID: req.ID, Error: fmt.Sprintf("status: unknown method %q", req.Method)}
	}
}

func (s *Server) handleDatasetsList(req Request) Response {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	return Response{ID: req.ID, Result: map[string]interface{}{"datasets": ids}}
}

func (s *Server) handleDatasetStats(req Request) Response {
	datasetID, ok := req.Params["dataset_id"].(string)
	if !ok || datasetID == "" {
		return Response{ID: req.ID, Error: "status: dataset_id parameter is required"}
	}
	s.mu.RLock()
	ch, ok := s.channels[datasetID]
	s.mu.RUnlock()
	if !ok {
		return Response{ID: req.ID, Error: fmt.Sprintf("status: unknown dataset %q", datasetID)}
	}

	stats := ch.Stats()
	return Response{
		ID: req.ID,
		Result: map[string]interface{}{
			"total_bytes":   stats.TotalBytes,
			"total_chunks":  stats.TotalChunks,
			"valid_chunks":  stats.ValidChunks,
			"in_flight":     stats.InFlight,
			"bytes_per_sec": stats.BytesPerSec,
		},
	}
}

func (s *Server) handleSwarmPeers(req Request) Response {
	if s.node == nil {
		return Response{ID: req.ID, Error: "status: swarm participation is not enabled"}
	}
	alive := s.node.Membership.AliveMembers()
	peers := make([]map[string]interface{}, len(alive))
	for i, m := range alive {
		state, incarnation := m.GetState()
		peers[i] = map[string]interface{}{
			"peer_id":     m.PeerID,
			"addrs":       m.Addresses(),
			"state":       state.String(),
			"incarnation": incarnation,
		}
	}
	return Response{ID: req.ID, Result: map[string]interface{}{"peers": peers}}
}
