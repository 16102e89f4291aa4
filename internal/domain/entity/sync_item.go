package entity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// SyncItem is a write recorded while upstream was unreachable, replayed later.
type SyncItem struct {
	ID        string          `json:"id" bson:"_id"`
	Action    string          `json:"action" bson:"action"`
	Method    string          `json:"method" bson:"method"`
	Path      string          `json:"path" bson:"path"`
	Payload   json.RawMessage `json:"payload,omitempty" bson:"payload,omitempty"`
	// UserID and Token identify the user the write is replayed as.
	UserID    string          `json:"user_id" bson:"user_id"`
	Token     string          `json:"-" bson:"token"`
	Attempts  int             `json:"attempts" bson:"attempts"`
	LastError string          `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" bson:"updated_at"`
}

var allowedSyncMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

func NewSyncItem(id, action, method, path string, payload json.RawMessage) (*SyncItem, error) {
	if action == "" {
		return nil, errors.New("sync item action cannot be empty")
	}
	method = strings.ToUpper(method)
	if method == "" {
		method = http.MethodPost
	}
	if !allowedSyncMethods[method] {
		return nil, errors.New("sync item method must be POST, PUT, PATCH or DELETE")
	}
	if !strings.HasPrefix(path, "/") {
		return nil, errors.New("sync item path must be absolute")
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return nil, errors.New("sync item payload must be valid JSON")
	}
	now := time.Now().UTC()
	return &SyncItem{
		ID:        id,
		Action:    action,
		Method:    method,
		Path:      path,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// OwnedBy attaches the caller the item will be replayed as.
func (s *SyncItem) OwnedBy(c Caller) {
	s.UserID = c.UserID
	s.Token = c.Token
}

func (s *SyncItem) MarkFailed(err error) {
	s.Attempts++
	if err != nil {
		s.LastError = err.Error()
	}
	s.UpdatedAt = time.Now().UTC()
}
