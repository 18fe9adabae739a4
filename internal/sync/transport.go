package sync

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/dismerge/internal/document"
	"github.com/cuemby/dismerge/internal/model"
)

// Transport delivers sync traffic to a peer. internal/node wires a
// concrete implementation at startup; tests substitute an in-memory fake
// so the engine's retry/backoff logic is exercised without a real
// network.
type Transport interface {
	// SendSyncMessage transmits msg, generated on selfID's behalf, to
	// peer. The peer applies it by calling its own Document Actor's
	// ReceiveSyncMessage and fans resulting events out to its watch
	// server; SendSyncMessage itself only reports whether the message
	// was delivered.
	SendSyncMessage(ctx context.Context, peer model.Member, selfID uint64, msg *document.SyncMessage) error

	// MemberList asks peer for its current membership view, used during
	// initial discovery (Discover) to locate this node's own member id.
	MemberList(ctx context.Context, peer model.Member) (model.MemberListResponse, error)
}

// HTTPTransport is the default Transport: sync messages and membership
// queries travel as gob payloads over plain HTTP between peers' internal
// sync listeners, mirroring the retrying-HTTP-client shape used for
// inter-node replication traffic elsewhere in the ecosystem. cmd/dismerge
// registers the matching inbound handlers (NewSyncHandler/
// NewMemberListHandler) against each node's peer-sync listener.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport builds an HTTPTransport with a bounded per-request
// timeout; callers layer their own context deadlines on top.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{Client: &http.Client{Timeout: 10 * time.Second}}
}

type syncEnvelope struct {
	SelfID uint64
	Body   []byte
}

func (t *HTTPTransport) SendSyncMessage(ctx context.Context, peer model.Member, selfID uint64, msg *document.SyncMessage) error {
	addr, err := peerAddr(peer)
	if err != nil {
		return err
	}
	body, err := document.EncodeSyncMessage(msg)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(syncEnvelope{SelfID: selfID, Body: body}); err != nil {
		return fmt.Errorf("encode sync envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/internal/sync", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send sync message to member %d: %w", peer.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("member %d rejected sync message: HTTP %d", peer.ID, resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) MemberList(ctx context.Context, peer model.Member) (model.MemberListResponse, error) {
	addr, err := peerAddr(peer)
	if err != nil {
		return model.MemberListResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/internal/members", nil)
	if err != nil {
		return model.MemberListResponse{}, err
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return model.MemberListResponse{}, fmt.Errorf("list members from %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return model.MemberListResponse{}, fmt.Errorf("%s rejected member list request: HTTP %d", addr, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.MemberListResponse{}, err
	}
	var out model.MemberListResponse
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&out); err != nil {
		return model.MemberListResponse{}, fmt.Errorf("decode member list: %w", err)
	}
	return out, nil
}

func peerAddr(peer model.Member) (string, error) {
	if len(peer.PeerURLs) == 0 {
		return "", fmt.Errorf("member %d has no peer URLs", peer.ID)
	}
	return peer.PeerURLs[0], nil
}
