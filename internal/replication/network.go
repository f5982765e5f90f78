package replication

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
)

// FetchCommitRequest is the REPLICATION_FETCH_COMMIT wire request
// (spec.md §4.7, §6).
type FetchCommitRequest struct {
	Version         int    `json:"version"`
	WorldID         string `json:"world_id"`
	Height          uint64 `json:"height"`
	RequesterPubkey []byte `json:"requester_pubkey,omitempty"`
	RequesterSig    []byte `json:"requester_sig,omitempty"`
}

func (r FetchCommitRequest) signingPayload() map[string]any {
	return map[string]any{"version": 1, "world_id": r.WorldID, "height": r.Height}
}

// FetchCommitResponse is the REPLICATION_FETCH_COMMIT wire response. A
// "not found" response (Found=false) is non-fatal: the observer keeps
// waiting (spec.md §4.7).
type FetchCommitResponse struct {
	Found   bool           `json:"found"`
	Message *CommitMessage `json:"message,omitempty"`
}

// CommitMessage embeds the path→content_hash record alongside the raw
// commit payload bytes, per spec.md §6.
type CommitMessage struct {
	Record  CommitPathRecord `json:"record"`
	Payload []byte           `json:"payload"`
}

// CommitPathRecord binds a logical commit path to its content hash.
type CommitPathRecord struct {
	WorldID     string      `json:"world_id"`
	Path        string      `json:"path"`
	ContentHash ContentHash `json:"content_hash"`
}

// FetchBlobRequest is the REPLICATION_FETCH_BLOB wire request.
type FetchBlobRequest struct {
	Version         int         `json:"version"`
	ContentHash     ContentHash `json:"content_hash"`
	RequesterPubkey []byte      `json:"requester_pubkey,omitempty"`
	RequesterSig    []byte      `json:"requester_sig,omitempty"`
}

func (r FetchBlobRequest) signingPayload() map[string]any {
	return map[string]any{"version": 1, "content_hash": string(r.ContentHash)}
}

// FetchBlobResponse is the REPLICATION_FETCH_BLOB wire response.
type FetchBlobResponse struct {
	Found bool   `json:"found"`
	Blob  []byte `json:"blob,omitempty"`
}

// Network is the pluggable transport gap-sync runs over; concrete
// implementations might be gossip-backed, HTTP, or in-process for tests.
type Network interface {
	FetchCommit(ctx context.Context, peer string, req FetchCommitRequest) (FetchCommitResponse, error)
	FetchBlob(ctx context.Context, peer string, req FetchBlobRequest) (FetchBlobResponse, error)
}

// Server answers gap-sync requests. When requireSignatures is true, it rejects
// any request lacking a valid Ed25519 signature over its canonical signing payload.
type Server struct {
	store             *Store
	requireSignatures bool
	trustedKeys       map[string]ed25519.PublicKey // string(raw pubkey bytes) -> key
}

// NewServer constructs a gap-sync responder backed by store. When
// requireSignatures is true, FetchCommit/FetchBlob requests must carry a
// RequesterPubkey present in trustedKeys and a valid RequesterSig.
func NewServer(store *Store, requireSignatures bool, trustedKeys map[string]ed25519.PublicKey) *Server {
	return &Server{store: store, requireSignatures: requireSignatures, trustedKeys: trustedKeys}
}

var errSignatureRequired = fmt.Errorf("replication: request signature required but missing or invalid")

func (s *Server) checkSignature(pubkey, sig []byte, payload any) error {
	if !s.requireSignatures {
		return nil
	}
	pub, ok := s.trustedKeys[string(pubkey)]
	if !ok || len(sig) == 0 || !VerifyPayload(pub, payload, sig) {
		return errSignatureRequired
	}
	return nil
}

// HandleFetchCommit serves a REPLICATION_FETCH_COMMIT request by reading the
// on-disk commit record for req.Height under dir; req.WorldID is echoed into the
// response record but does not select the commit.
func (s *Server) HandleFetchCommit(dir string, req FetchCommitRequest) (FetchCommitResponse, error) {
	if err := s.checkSignature(req.RequesterPubkey, req.RequesterSig, req.signingPayload()); err != nil {
		return FetchCommitResponse{}, err
	}
	rec, found, err := LoadCommit(dir, req.Height)
	if err != nil {
		return FetchCommitResponse{}, err
	}
	if !found {
		return FetchCommitResponse{Found: false}, nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return FetchCommitResponse{}, fmt.Errorf("replication: marshal commit payload: %w", err)
	}
	hash, err := s.store.PutBlob(payload)
	if err != nil {
		return FetchCommitResponse{}, err
	}
	return FetchCommitResponse{
		Found: true,
		Message: &CommitMessage{
			Record:  CommitPathRecord{WorldID: req.WorldID, Path: commitPath("", req.Height), ContentHash: hash},
			Payload: payload,
		},
	}, nil
}

// HandleFetchBlob serves a REPLICATION_FETCH_BLOB request from the CAS.
func (s *Server) HandleFetchBlob(req FetchBlobRequest) (FetchBlobResponse, error) {
	if err := s.checkSignature(req.RequesterPubkey, req.RequesterSig, req.signingPayload()); err != nil {
		return FetchBlobResponse{}, err
	}
	blob, found, err := s.store.GetBlob(req.ContentHash)
	if err != nil {
		return FetchBlobResponse{}, err
	}
	return FetchBlobResponse{Found: found, Blob: blob}, nil
}
