package sync

import (
	"bytes"
	"encoding/gob"
	"io"
	"net/http"

	"github.com/cuemby/dismerge/internal/actor"
	"github.com/cuemby/dismerge/internal/document"
)

// NewSyncHandler answers HTTPTransport.SendSyncMessage requests: decode
// the envelope, merge the carried sync message into act, and rely on the
// Actor's own onEvents hook to fan resulting events out to the local
// watch server (the same path a local Put takes).
func NewSyncHandler(act *actor.Actor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var env syncEnvelope
		if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&env); err != nil {
			http.Error(w, "decode sync envelope: "+err.Error(), http.StatusBadRequest)
			return
		}
		msg, err := document.DecodeSyncMessage(env.Body)
		if err != nil {
			http.Error(w, "decode sync message: "+err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := act.ReceiveSyncMessage(r.Context(), env.SelfID, msg); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// NewMemberListHandler answers HTTPTransport.MemberList requests, used
// both for steady-state membership queries and for a joining peer's
// Discover loop.
func NewMemberListHandler(act *actor.Actor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		resp, err := act.MemberList(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(buf.Bytes())
	}
}
