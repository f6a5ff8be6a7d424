package backend

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SessionState はアプリ再起動をまたいで残す同期セッションの記録
type SessionState struct {
	LastUID              string `json:"lastUid"`
	LastEmail            string `json:"lastEmail"`
	LastSyncedAt         int64  `json:"lastSyncedAt"`
	CompletedInitialSync bool   `json:"completedInitialSync"`
}

// SessionStateStore はSessionStateをファイルへ永続化する。
// 書き込みは一時ファイル+renameで行い、途中クラッシュで壊れないようにする。
type SessionStateStore struct {
	path  string
	mutex sync.Mutex
	state SessionState
}

func NewSessionStateStore(appDataDir string) *SessionStateStore {
	s := &SessionStateStore{path: filepath.Join(appDataDir, "session_state.json")}
	s.load()
	return s
}

func (s *SessionStateStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return
	}
	s.state = state
}

func (s *SessionStateStore) save() {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return
	}
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return
	}
	os.Rename(tmpPath, s.path)
}

func (s *SessionStateStore) Get() SessionState {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *SessionStateStore) SetUser(uid, email string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state.LastUID = uid
	s.state.LastEmail = email
	s.save()
}

func (s *SessionStateStore) MarkSynced() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state.LastSyncedAt = time.Now().UnixMilli()
	s.state.CompletedInitialSync = true
	s.save()
}

func (s *SessionStateStore) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.state = SessionState{}
	s.save()
}
