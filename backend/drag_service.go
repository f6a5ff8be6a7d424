package backend

import (
	"errors"
	"sync"
)

// ドラッグ対象の種別
type DragItemKind string

const (
	DragKindFolder   DragItemKind = "folder"
	DragKindBookmark DragItemKind = "bookmark"
)

var ErrDragInProgress = errors.New("drag already in progress")

// LayoutRect はフロントエンドが報告する描画済み要素の矩形。
// 座標はウィンドウ座標系で、レイアウトが変わるたびに一覧を丸ごと送り直す。
type LayoutRect struct {
	ID           string       `json:"id"`
	Kind         DragItemKind `json:"kind"`
	CollectionID string       `json:"collectionId"`
	// ブックマークの場合のみ: 描画上の所属フォルダ
	FolderID string  `json:"folderId,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
}

func (r LayoutRect) contains(p DragPointer) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

func (r LayoutRect) area() float64 {
	return r.Width * r.Height
}

// DragPointer はドラッグ中のポインタ位置
type DragPointer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DragService はドラッグ&ドロップの状態機械。
//
// ドラッグ中は並び替え装置(OrderReconciler)のローカル順だけを書き換え、
// リモートへの反映はドロップ確定時に1回のミューテーションとして発行する。
// 発行は投げっぱなしで、失敗してもローカル順は巻き戻さない。いずれ届く
// リモートのスナップショットが真実として上書きする。
type DragService struct {
	reconciler *OrderReconciler
	sync       CollectionSyncService
	logger     AppLogger

	mutex sync.Mutex
	rects []LayoutRect

	dragging        bool
	movedDuringDrag bool
	kind            DragItemKind
	itemID          string
	collectionID    string
	originFolderID  string // ブックマークのドラッグ開始時の所属フォルダ
	currentFolderID string
}

func NewDragService(reconciler *OrderReconciler, syncService CollectionSyncService, logger AppLogger) *DragService {
	return &DragService{
		reconciler: reconciler,
		sync:       syncService,
		logger:     logger,
	}
}

// UpdateLayout は最新のレイアウト矩形一覧で全体を置き換える
func (d *DragService) UpdateLayout(rects []LayoutRect) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.rects = make([]LayoutRect, len(rects))
	copy(d.rects, rects)
}

// DragStart はドラッグセッションを開始する
func (d *DragService) DragStart(kind DragItemKind, itemID string) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.dragging {
		return ErrDragInProgress
	}
	rect := d.findRectLocked(kind, itemID)
	if rect == nil {
		return errors.New("unknown drag item: " + itemID)
	}
	d.dragging = true
	d.movedDuringDrag = false
	d.kind = kind
	d.itemID = itemID
	d.collectionID = rect.CollectionID
	d.originFolderID = rect.FolderID
	d.currentFolderID = rect.FolderID
	return nil
}

// DragOver はポインタ移動を受けてローカル順をその場で書き換える。
// 並びが変わった場合に true を返す(呼び出し側が再描画する)。
func (d *DragService) DragOver(p DragPointer) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if !d.dragging {
		return false
	}
	if moved := d.dragOverLocked(p); moved {
		d.movedDuringDrag = true
		return true
	}
	return false
}

func (d *DragService) dragOverLocked(p DragPointer) bool {
	target := d.hitTestLocked(p)
	if target == nil || target.ID == d.itemID {
		return false
	}

	switch d.kind {
	case DragKindFolder:
		if target.Kind != DragKindFolder || target.CollectionID != d.collectionID {
			return false
		}
		index := indexOfID(d.reconciler.FolderOrder(d.collectionID), target.ID)
		if index < 0 {
			return false
		}
		d.reconciler.MoveFolder(d.collectionID, d.itemID, index)
		return true

	case DragKindBookmark:
		if target.CollectionID != d.collectionID {
			return false
		}
		if target.Kind == DragKindBookmark {
			// 相手ブックマークの現在位置へ割り込む
			index := indexOfID(d.reconciler.BookmarkOrder(target.FolderID), target.ID)
			if index < 0 {
				return false
			}
			d.reconciler.MoveBookmark(d.itemID, d.currentFolderID, target.FolderID, index)
			d.currentFolderID = target.FolderID
			return true
		}
		// フォルダの余白に被せた場合はそのフォルダの末尾へ
		if target.ID == d.currentFolderID {
			return false
		}
		d.reconciler.MoveBookmark(d.itemID, d.currentFolderID, target.ID, EndIndex)
		d.currentFolderID = target.ID
		return true
	}
	return false
}

// DragEnd はドロップを確定し、必要ならリモートへ1回だけミューテーションを送る。
// 有効なドロップ先が無い場合と自分自身への落下は何もせず終了する。
func (d *DragService) DragEnd(p DragPointer) {
	d.mutex.Lock()
	if !d.dragging {
		d.mutex.Unlock()
		return
	}
	kind := d.kind
	itemID := d.itemID
	collectionID := d.collectionID
	originFolderID := d.originFolderID
	currentFolderID := d.currentFolderID
	moved := d.movedDuringDrag
	target := d.hitTestLocked(p)
	d.dragging = false
	d.mutex.Unlock()

	// 有効なドロップ先が無い、自分自身への落下、一度も動いていない、の
	// いずれもリモートへは何も送らない
	if target == nil || target.ID == itemID || !moved {
		return
	}

	switch kind {
	case DragKindFolder:
		order := d.reconciler.FolderOrder(collectionID)
		go func() {
			if err := d.sync.ReorderFolders(collectionID, order); err != nil {
				d.logger.ErrorWithNotify(err, "Failed to save folder order")
			}
		}()

	case DragKindBookmark:
		if currentFolderID == originFolderID {
			order := d.reconciler.BookmarkOrder(currentFolderID)
			go func() {
				if err := d.sync.ReorderBookmarks(collectionID, currentFolderID, order); err != nil {
					d.logger.ErrorWithNotify(err, "Failed to save bookmark order")
				}
			}()
			return
		}
		index := indexOfID(d.reconciler.BookmarkOrder(currentFolderID), itemID)
		go func() {
			if err := d.sync.MoveBookmark(collectionID, originFolderID, currentFolderID, itemID, index); err != nil {
				d.logger.ErrorWithNotify(err, "Failed to move bookmark")
			}
		}()
	}
}

// DragCancel はドラッグセッションを放棄する(Escキーなど)。
// ローカル順は書き換え済みのまま残るが、リモートには送らない。
func (d *DragService) DragCancel() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.dragging = false
}

// IsDragging は現在ドラッグ中かを返す
func (d *DragService) IsDragging() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.dragging
}

func (d *DragService) findRectLocked(kind DragItemKind, id string) *LayoutRect {
	for i := range d.rects {
		if d.rects[i].Kind == kind && d.rects[i].ID == id {
			return &d.rects[i]
		}
	}
	return nil
}

// hitTestLocked は2段階でドロップ先を探す。
// まず同種要素の矩形との正確な当たり判定、ブックマークのドラッグでは
// 外れた場合にフォルダ矩形(コンテナ)への包含判定で補う。
// 複数の矩形に入っている場合は面積が最小のものを選ぶ。
func (d *DragService) hitTestLocked(p DragPointer) *LayoutRect {
	if hit := d.smallestHitLocked(p, d.kind); hit != nil {
		return hit
	}
	if d.kind == DragKindBookmark {
		return d.smallestHitLocked(p, DragKindFolder)
	}
	return nil
}

func (d *DragService) smallestHitLocked(p DragPointer, kind DragItemKind) *LayoutRect {
	var best *LayoutRect
	for i := range d.rects {
		r := &d.rects[i]
		if r.Kind != kind || !r.contains(p) {
			continue
		}
		if best == nil || r.area() < best.area() {
			best = r
		}
	}
	return best
}

func indexOfID(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
