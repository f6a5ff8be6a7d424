package backend

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ファビコンはUIの飾りなので、取得に失敗しても空文字を返すだけにする
const (
	faviconMaxBytes    = 256 * 1024
	faviconHTTPTimeout = 5 * time.Second
)

// FaviconService はブックマークのファビコンをdata URLとして解決する。
// メモリとローカルキャッシュの2段でキャッシュし、同じサイトへの
// 再取得を避ける。
type FaviconService struct {
	store  CacheStore
	logger AppLogger
	client *http.Client

	mutex sync.Mutex
	memo  map[string]string
}

func NewFaviconService(store CacheStore, logger AppLogger) *FaviconService {
	return &FaviconService{
		store:  store,
		logger: logger,
		client: &http.Client{Timeout: faviconHTTPTimeout},
		memo:   make(map[string]string),
	}
}

// Resolve はブックマークのファビコンをdata URLで返す。
// overrideURL が指定されていればそれを、なければサイトの /favicon.ico を使う。
// 解決できない場合は空文字を返す。
func (s *FaviconService) Resolve(bookmarkURL, overrideURL string) string {
	fetchURL := overrideURL
	if fetchURL == "" {
		parsed, err := url.Parse(bookmarkURL)
		if err != nil || parsed.Host == "" {
			return ""
		}
		fetchURL = parsed.Scheme + "://" + parsed.Host + "/favicon.ico"
	}

	s.mutex.Lock()
	if cached, ok := s.memo[fetchURL]; ok {
		s.mutex.Unlock()
		return cached
	}
	s.mutex.Unlock()

	cacheKey := "favicon:" + fetchURL
	if cached := s.store.Read(cacheKey); cached != nil {
		result := string(cached)
		s.remember(fetchURL, result)
		return result
	}

	result := s.fetch(fetchURL)
	if result != "" {
		s.store.Write(cacheKey, []byte(result))
	}
	s.remember(fetchURL, result)
	return result
}

func (s *FaviconService) remember(key, value string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.memo[key] = value
}

func (s *FaviconService) fetch(fetchURL string) string {
	resp, err := s.client.Get(fetchURL)
	if err != nil {
		s.logger.Console("favicon fetch failed for %s: %v", fetchURL, err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, faviconMaxBytes+1))
	if err != nil || len(body) == 0 || len(body) > faviconMaxBytes {
		return ""
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/x-icon"
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(body))
}
