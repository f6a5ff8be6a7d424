package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// FileService はコレクションのJSONエクスポート・インポートを担う
type FileService struct {
	ctx    *Context
	logger AppLogger
}

func NewFileService(ctx *Context, logger AppLogger) *FileService {
	return &FileService{ctx: ctx, logger: logger}
}

// ExportCollection は保存ダイアログを開き、コレクションをJSONで書き出す。
// ユーザーがキャンセルした場合は何もせず nil を返す。
func (s *FileService) ExportCollection(collection Collection) error {
	path, err := wailsRuntime.SaveFileDialog(s.ctx.ctx, wailsRuntime.SaveDialogOptions{
		DefaultFilename: collection.Name + ".json",
		Filters: []wailsRuntime.FileFilter{
			{DisplayName: "JSON Files (*.json)", Pattern: "*.json"},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open save dialog: %w", err)
	}
	if path == "" {
		return nil
	}
	data, err := json.MarshalIndent(collection, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize collection: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	s.logger.NotifySuccess("Exported %q", collection.Name)
	return nil
}

// ReadCollectionFile は開くダイアログでJSONファイルを選ばせて解析する。
// キャンセル時は (nil, nil) を返す。
func (s *FileService) ReadCollectionFile() (*Collection, error) {
	path, err := wailsRuntime.OpenFileDialog(s.ctx.ctx, wailsRuntime.OpenDialogOptions{
		Filters: []wailsRuntime.FileFilter{
			{DisplayName: "JSON Files (*.json)", Pattern: "*.json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open file dialog: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var collection Collection
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, errors.New("selected file is not a valid collection export")
	}
	normalized := NormalizeCollection(collection.ID, collection)
	return &normalized, nil
}
