package backend

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// SettingsService はウィンドウ状態と表示設定の読み書きを担う
type SettingsService struct {
	appDataDir string
	mutex      sync.Mutex
}

func NewSettingsService(appDataDir string) *SettingsService {
	return &SettingsService{appDataDir: appDataDir}
}

func defaultSettings() Settings {
	return Settings{
		WindowWidth:        1120,
		WindowHeight:       800,
		WindowX:            -1,
		WindowY:            -1,
		IsMaximized:        false,
		IsDarkMode:         true,
		SidebarWidth:       260,
		ShowFavicons:       true,
		OpenLinksInBrowser: true,
	}
}

func (s *SettingsService) settingsFilePath() string {
	return filepath.Join(s.appDataDir, "settings.json")
}

// LoadSettings は設定を読み込む。ファイルが無い・壊れている場合は既定値を返す。
func (s *SettingsService) LoadSettings() (*Settings, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	settings := defaultSettings()
	data, err := os.ReadFile(s.settingsFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return &settings, nil
		}
		return &settings, err
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		settings = defaultSettings()
		return &settings, nil
	}
	if settings.WindowWidth < 400 {
		settings.WindowWidth = defaultSettings().WindowWidth
	}
	if settings.WindowHeight < 300 {
		settings.WindowHeight = defaultSettings().WindowHeight
	}
	if settings.SidebarWidth < 160 {
		settings.SidebarWidth = defaultSettings().SidebarWidth
	}
	return &settings, nil
}

// SaveSettings は設定を保存する
func (s *SettingsService) SaveSettings(settings *Settings) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := s.settingsFilePath() + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.settingsFilePath())
}

// SaveWindowState はウィンドウの位置・サイズだけを更新して保存する
func (s *SettingsService) SaveWindowState(width, height, x, y int, maximized bool) error {
	settings, err := s.LoadSettings()
	if err != nil {
		return err
	}
	settings.WindowWidth = width
	settings.WindowHeight = height
	settings.WindowX = x
	settings.WindowY = y
	settings.IsMaximized = maximized
	return s.SaveSettings(settings)
}
