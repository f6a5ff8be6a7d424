package backend

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// CacheStore はローカルキャッシュの素朴なキーバリュー永続層。
// 書き込みも読み込みも失敗をエラーとして返さない。キャッシュは
// あくまで高速化のためのもので、失敗してもアプリの動作には影響させない。
type CacheStore interface {
	// Read はキーに対応する値を返す。見つからない・壊れている場合は nil。
	Read(key string) []byte
	// Write は値を保存する。value が nil ならキーを削除する。
	Write(key string, value []byte)
	Close() error
}

// NewCacheStore は利用可能なバックエンドを順に試してキャッシュストアを返す。
// SQLite → キーごとのファイル → 何もしない実装、の順で劣化する。
func NewCacheStore(appDataDir string, logger AppLogger) CacheStore {
	if appDataDir != "" {
		if store, err := newSQLiteCacheStore(filepath.Join(appDataDir, "cache.db")); err == nil {
			return store
		} else if logger != nil {
			logger.Console("sqlite cache unavailable, falling back to file cache: %v", err)
		}
		if store, err := newFileCacheStore(filepath.Join(appDataDir, "cache")); err == nil {
			return store
		} else if logger != nil {
			logger.Console("file cache unavailable, caching disabled: %v", err)
		}
	}
	return &noopCacheStore{}
}

// ---------- SQLite 実装 ----------

type sqliteCacheStore struct {
	db    *sql.DB
	mutex sync.Mutex
}

func newSQLiteCacheStore(path string) (*sqliteCacheStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS cache_entries (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return &sqliteCacheStore{db: db}, nil
}

func (s *sqliteCacheStore) Read(key string) []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM cache_entries WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return nil
	}
	return value
}

func (s *sqliteCacheStore) Write(key string, value []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return
	}
	if value == nil {
		_, err = tx.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	} else {
		_, err = tx.Exec(`INSERT INTO cache_entries (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	}
	if err != nil {
		tx.Rollback()
		return
	}
	tx.Commit()
}

func (s *sqliteCacheStore) Close() error {
	return s.db.Close()
}

// ---------- ファイル実装 ----------

type fileCacheStore struct {
	dir   string
	mutex sync.Mutex
}

func newFileCacheStore(dir string) (*fileCacheStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &fileCacheStore{dir: dir}, nil
}

// キーはファイル名に使えない文字を含みうるのでハッシュ化する
func (s *fileCacheStore) pathFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".bin")
}

func (s *fileCacheStore) Read(key string) []byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		return nil
	}
	return data
}

func (s *fileCacheStore) Write(key string, value []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	path := s.pathFor(key)
	if value == nil {
		os.Remove(path)
		return
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, value, 0600); err != nil {
		return
	}
	os.Rename(tmpPath, path)
}

func (s *fileCacheStore) Close() error {
	return nil
}

// ---------- 無効化実装 ----------

type noopCacheStore struct{}

func (s *noopCacheStore) Read(key string) []byte        { return nil }
func (s *noopCacheStore) Write(key string, value []byte) {}
func (s *noopCacheStore) Close() error                  { return nil }
