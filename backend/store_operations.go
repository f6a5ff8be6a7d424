package backend

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// StoreOperations はリモートストア(Google Drive)への低レベル操作。
// 上位の同期サービスはこのインターフェースだけに依存し、テストではモックに差し替える。
type StoreOperations interface {
	CreateFile(name string, content []byte, parentID string, mimeType string) (string, error)
	UpdateFile(fileID string, content []byte) error
	DeleteFile(fileID string) error
	DownloadFile(fileID string) ([]byte, error)
	CreateFolder(name string, parentID string) (string, error)
	GetFolderID(name string, parentID string) (string, error)
	ListFiles(query string) ([]*drive.File, error)
	GetFileID(name string, parentID string) (string, error)
}

type storeOperations struct {
	service *drive.Service
}

func NewStoreOperations(service *drive.Service) StoreOperations {
	return &storeOperations{service: service}
}

func (o *storeOperations) CreateFile(name string, content []byte, parentID string, mimeType string) (string, error) {
	file := &drive.File{
		Name:     name,
		MimeType: mimeType,
	}
	if parentID != "" {
		file.Parents = []string{parentID}
	}
	created, err := o.service.Files.Create(file).
		Media(bytes.NewReader(content)).
		Fields("id").
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	return created.Id, nil
}

func (o *storeOperations) UpdateFile(fileID string, content []byte) error {
	_, err := o.service.Files.Update(fileID, &drive.File{}).
		Media(bytes.NewReader(content)).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	return nil
}

func (o *storeOperations) DeleteFile(fileID string) error {
	if err := o.service.Files.Delete(fileID).Do(); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (o *storeOperations) DownloadFile(fileID string) ([]byte, error) {
	resp, err := o.service.Files.Get(fileID).Download()
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	return content, nil
}

func (o *storeOperations) CreateFolder(name string, parentID string) (string, error) {
	folder := &drive.File{
		Name:     name,
		MimeType: "application/vnd.google-apps.folder",
	}
	if parentID != "" {
		folder.Parents = []string{parentID}
	}
	created, err := o.service.Files.Create(folder).Fields("id").Do()
	if err != nil {
		return "", fmt.Errorf("failed to create folder: %w", err)
	}
	return created.Id, nil
}

func (o *storeOperations) GetFolderID(name string, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='application/vnd.google-apps.folder' and trashed=false", name)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}
	files, err := o.ListFiles(query)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	return files[0].Id, nil
}

func (o *storeOperations) ListFiles(query string) ([]*drive.File, error) {
	var files []*drive.File
	pageToken := ""
	for {
		call := o.service.Files.List().
			Q(query).
			Fields("nextPageToken, files(id, name, createdTime, modifiedTime)").
			PageSize(500)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		result, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}
		files = append(files, result.Files...)
		pageToken = result.NextPageToken
		if pageToken == "" {
			break
		}
	}
	return files, nil
}

func (o *storeOperations) GetFileID(name string, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and trashed=false", name)
	if parentID != "" {
		query += fmt.Sprintf(" and '%s' in parents", parentID)
	}
	files, err := o.ListFiles(query)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", nil
	}
	if len(files) > 1 {
		// 重複がある場合は最新を正とする(古いものの掃除は上位層が判断する)
		latest := findLatestFile(files)
		return latest.Id, nil
	}
	return files[0].Id, nil
}

// cloudStoreOperations はCloudSyncの現在の接続からDriveサービスを
// 毎回引き直すStoreOperations。サインイン前後でサービスが差し替わっても
// 上位層が同じインスタンスを持ち続けられる。
type cloudStoreOperations struct {
	cloudSync *CloudSync
}

func NewCloudStoreOperations(cloudSync *CloudSync) StoreOperations {
	return &cloudStoreOperations{cloudSync: cloudSync}
}

func (o *cloudStoreOperations) current() (StoreOperations, error) {
	service := o.cloudSync.GetService()
	if service == nil {
		return nil, ErrNotConnected
	}
	return &storeOperations{service: service}, nil
}

func (o *cloudStoreOperations) CreateFile(name string, content []byte, parentID string, mimeType string) (string, error) {
	ops, err := o.current()
	if err != nil {
		return "", err
	}
	return ops.CreateFile(name, content, parentID, mimeType)
}

func (o *cloudStoreOperations) UpdateFile(fileID string, content []byte) error {
	ops, err := o.current()
	if err != nil {
		return err
	}
	return ops.UpdateFile(fileID, content)
}

func (o *cloudStoreOperations) DeleteFile(fileID string) error {
	ops, err := o.current()
	if err != nil {
		return err
	}
	return ops.DeleteFile(fileID)
}

func (o *cloudStoreOperations) DownloadFile(fileID string) ([]byte, error) {
	ops, err := o.current()
	if err != nil {
		return nil, err
	}
	return ops.DownloadFile(fileID)
}

func (o *cloudStoreOperations) CreateFolder(name string, parentID string) (string, error) {
	ops, err := o.current()
	if err != nil {
		return "", err
	}
	return ops.CreateFolder(name, parentID)
}

func (o *cloudStoreOperations) GetFolderID(name string, parentID string) (string, error) {
	ops, err := o.current()
	if err != nil {
		return "", err
	}
	return ops.GetFolderID(name, parentID)
}

func (o *cloudStoreOperations) ListFiles(query string) ([]*drive.File, error) {
	ops, err := o.current()
	if err != nil {
		return nil, err
	}
	return ops.ListFiles(query)
}

func (o *cloudStoreOperations) GetFileID(name string, parentID string) (string, error) {
	ops, err := o.current()
	if err != nil {
		return "", err
	}
	return ops.GetFileID(name, parentID)
}

// findLatestFile は modifiedTime が最も新しいファイルを返す
func findLatestFile(files []*drive.File) *drive.File {
	if len(files) == 0 {
		return nil
	}
	sorted := make([]*drive.File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ModifiedTime > sorted[j].ModifiedTime
	})
	return sorted[0]
}

// isNotFoundError はストア側にファイルが存在しないことを示すエラーかを判定する
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 404 {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "notFound") || strings.Contains(message, "404")
}
