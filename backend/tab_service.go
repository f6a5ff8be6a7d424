package backend

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

var ErrTabBridgeUnavailable = errors.New("browser tab bridge unavailable")

// TabBridge はブラウザの開いているタブ一覧の取得元。
// 取得できない環境では ErrTabBridgeUnavailable を返す。
type TabBridge interface {
	ListCurrentWindowTabs() ([]Tab, error)
}

// TabService はタブ一覧の取得をUI向けに包む。
// ブリッジが使えない環境では ok=false を返し、UI側で機能を隠す。
type TabService struct {
	bridge TabBridge
}

func NewTabService(bridge TabBridge) *TabService {
	return &TabService{bridge: bridge}
}

// ListCurrentWindowTabs は現在のブラウザウィンドウのタブ一覧を返す
func (s *TabService) ListCurrentWindowTabs() ([]Tab, bool) {
	if s.bridge == nil {
		return nil, false
	}
	tabs, err := s.bridge.ListCurrentWindowTabs()
	if err != nil {
		return nil, false
	}
	return tabs, true
}

// ---------- 拡張機能ブリッジ ----------

// tabSnapshot はブラウザ拡張が書き出すタブ一覧のファイル形式
type tabSnapshot struct {
	UpdatedAt int64 `json:"updatedAt"` // エポックミリ秒
	Tabs      []Tab `json:"tabs"`
}

// スナップショットが古すぎる場合はブラウザが閉じているとみなす
const tabSnapshotMaxAge = 30 * time.Second

// fileTabBridge はコンパニオン拡張機能がネイティブメッセージング経由で
// 書き出すスナップショットファイルを読むブリッジ。
type fileTabBridge struct {
	path string
}

func NewFileTabBridge(appDataDir string) TabBridge {
	return &fileTabBridge{path: filepath.Join(appDataDir, "tabs.json")}
}

func (b *fileTabBridge) ListCurrentWindowTabs() ([]Tab, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, ErrTabBridgeUnavailable
	}
	var snapshot tabSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, ErrTabBridgeUnavailable
	}
	age := time.Since(time.UnixMilli(snapshot.UpdatedAt))
	if age > tabSnapshotMaxAge {
		return nil, ErrTabBridgeUnavailable
	}
	return snapshot.Tabs, nil
}
