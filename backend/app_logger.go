package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// AppLogger はバックエンド全体のログとフロントエンドへの通知を担う
type AppLogger interface {
	// コンソールとログファイルのみに出力する
	Console(format string, args ...interface{})
	// フロントエンドのステータスバーにも表示する
	Info(format string, args ...interface{})
	// エラーをログに記録する
	Error(err error, format string, args ...interface{})
	// エラーを記録し、フロントエンドへ通知イベントを送る
	ErrorWithNotify(err error, format string, args ...interface{})
	// 同期ステータス(syncing / synced / offline)を通知する
	NotifyStoreStatus(status string)
	// 操作の成功をトースト通知する
	NotifySuccess(format string, args ...interface{})
	// アンドゥ可能な操作をトークン付きで通知する
	NotifyUndo(message string, token string)
	// 補正済みコレクション一覧をフロントエンドへ送る
	NotifyCollections(collections []Collection)
	IsTestMode() bool
}

type appLogger struct {
	ctx        *Context
	isTestMode bool
	logFile    *os.File
}

// NewAppLogger は起動ごとのログファイルを作成してロガーを返す。
// ファイルが作れなくても標準出力へのログは生きたままにする。
func NewAppLogger(ctx *Context, isTestMode bool, appDataDir string) AppLogger {
	var logFile *os.File
	if !isTestMode && appDataDir != "" {
		logsDir := filepath.Join(appDataDir, "logs")
		if err := os.MkdirAll(logsDir, 0755); err == nil {
			name := fmt.Sprintf("bukuma-%s.log", time.Now().Format("20060102-150405"))
			logFile, _ = os.OpenFile(filepath.Join(logsDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		}
	}
	return &appLogger{ctx: ctx, isTestMode: isTestMode, logFile: logFile}
}

func (l *appLogger) write(level, message string) {
	line := fmt.Sprintf("%s [%s] %s", time.Now().Format("15:04:05.000"), level, message)
	fmt.Println(line)
	if l.logFile != nil {
		fmt.Fprintln(l.logFile, line)
	}
}

func (l *appLogger) emit(event string, data ...interface{}) {
	if l.isTestMode || l.ctx == nil {
		return
	}
	wailsRuntime.EventsEmit(l.ctx.ctx, event, data...)
}

func (l *appLogger) Console(format string, args ...interface{}) {
	l.write("DEBUG", fmt.Sprintf(format, args...))
}

func (l *appLogger) Info(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.write("INFO", message)
	l.emit("logMessage", message)
}

func (l *appLogger) Error(err error, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}
	l.write("ERROR", message)
}

func (l *appLogger) ErrorWithNotify(err error, format string, args ...interface{}) {
	l.Error(err, format, args...)
	message := fmt.Sprintf(format, args...)
	l.emit("notify:error", message)
}

func (l *appLogger) NotifyStoreStatus(status string) {
	l.write("DEBUG", fmt.Sprintf("store status: %s", status))
	l.emit("store:status", status)
}

func (l *appLogger) NotifySuccess(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.write("INFO", message)
	l.emit("notify:success", message)
}

func (l *appLogger) NotifyUndo(message string, token string) {
	l.write("INFO", fmt.Sprintf("%s (undo=%s)", message, token))
	l.emit("notify:undo", map[string]string{"message": message, "token": token})
}

func (l *appLogger) NotifyCollections(collections []Collection) {
	l.emit("collections:updated", collections)
}

func (l *appLogger) IsTestMode() bool {
	return l.isTestMode
}
