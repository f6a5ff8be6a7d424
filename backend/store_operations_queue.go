package backend

import (
	"sync"
	"time"

	"google.golang.org/api/drive/v3"
)

// storeOperationsQueue は書き込み系の操作を直列化するStoreOperationsのラッパー。
// DriveのAPIレート制限に当たらないよう書き込み間に最小間隔を置き、
// 同期サービスはポーリング前に HasPendingOperations で書き込み完了を確認できる。
// 読み取り系の操作は直列化せずそのまま通す。
type storeOperationsQueue struct {
	ops         StoreOperations
	minInterval time.Duration

	// writeMutex が書き込みの直列化、mutex がカウンタの保護を担当する
	writeMutex sync.Mutex
	mutex      sync.Mutex
	pending    int
	lastWrite  time.Time
	idleCond   *sync.Cond
}

func NewStoreOperationsQueue(ops StoreOperations) *storeOperationsQueue {
	q := &storeOperationsQueue{
		ops:         ops,
		minInterval: 200 * time.Millisecond,
	}
	q.idleCond = sync.NewCond(&q.mutex)
	return q
}

// HasPendingOperations は未完了の書き込みがあるかを返す
func (q *storeOperationsQueue) HasPendingOperations() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.pending > 0
}

// WaitUntilIdle は全ての書き込みが完了するまでブロックする
func (q *storeOperationsQueue) WaitUntilIdle() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for q.pending > 0 {
		q.idleCond.Wait()
	}
}

// beginWrite は書き込みの順番待ちと最小間隔の確保を行う
func (q *storeOperationsQueue) beginWrite() {
	q.mutex.Lock()
	q.pending++
	q.mutex.Unlock()

	q.writeMutex.Lock()

	q.mutex.Lock()
	wait := q.minInterval - time.Since(q.lastWrite)
	q.mutex.Unlock()
	if wait > 0 {
		time.Sleep(wait)
	}
}

func (q *storeOperationsQueue) endWrite() {
	q.mutex.Lock()
	q.pending--
	q.lastWrite = time.Now()
	if q.pending == 0 {
		q.idleCond.Broadcast()
	}
	q.mutex.Unlock()

	q.writeMutex.Unlock()
}

func (q *storeOperationsQueue) CreateFile(name string, content []byte, parentID string, mimeType string) (string, error) {
	q.beginWrite()
	defer q.endWrite()
	return q.ops.CreateFile(name, content, parentID, mimeType)
}

func (q *storeOperationsQueue) UpdateFile(fileID string, content []byte) error {
	q.beginWrite()
	defer q.endWrite()
	return q.ops.UpdateFile(fileID, content)
}

func (q *storeOperationsQueue) DeleteFile(fileID string) error {
	q.beginWrite()
	defer q.endWrite()
	return q.ops.DeleteFile(fileID)
}

func (q *storeOperationsQueue) CreateFolder(name string, parentID string) (string, error) {
	q.beginWrite()
	defer q.endWrite()
	return q.ops.CreateFolder(name, parentID)
}

func (q *storeOperationsQueue) DownloadFile(fileID string) ([]byte, error) {
	return q.ops.DownloadFile(fileID)
}

func (q *storeOperationsQueue) GetFolderID(name string, parentID string) (string, error) {
	return q.ops.GetFolderID(name, parentID)
}

func (q *storeOperationsQueue) ListFiles(query string) ([]*drive.File, error) {
	return q.ops.ListFiles(query)
}

func (q *storeOperationsQueue) GetFileID(name string, parentID string) (string, error) {
	return q.ops.GetFileID(name, parentID)
}
