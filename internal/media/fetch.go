package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"time"
)

// ErrSourceUnavailable 源不可用（链接失效、404、公开链接解析失败）。
// 这是永久失败：重试不会让一个失效链接复活。
var ErrSourceUnavailable = errors.New("source unavailable")

// yandexDiskRe 识别 Yandex Disk 公开链接
var yandexDiskRe = regexp.MustCompile(`^https://(disk\.yandex\.[a-z]+|disk\.360\.yandex\.[a-z]+|yadi\.sk)/(d|i)/`)

const diskPublicAPI = "https://cloud-api.yandex.net/v1/disk/public/resources/download"

// ValidateSourceRef 提交时的链接校验：必须是 http(s) URL
func ValidateSourceRef(ref string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid source url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("source url must be http(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("source url missing host")
	}
	return nil
}

// IsYandexDiskLink 判断是否为 Yandex Disk 公开链接
func IsYandexDiskLink(ref string) bool {
	return yandexDiskRe.MatchString(ref)
}

// Fetcher 负责把源视频拉到本地文件
type Fetcher struct {
	client  *http.Client
	diskAPI string
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  &http.Client{Timeout: timeout},
		diskAPI: diskPublicAPI,
	}
}

// Preflight 提交时的浅校验：Yandex Disk 公开链接尝试换取下载地址，
// 换不到说明链接失效或私有，提前拒绝而不是等 worker 跑到 fetch 才失败。
// 普通 URL 不预检（下载阶段会兜底），网络抖动也不算失败。
func (f *Fetcher) Preflight(ctx context.Context, sourceRef string) error {
	if !IsYandexDiskLink(sourceRef) {
		return nil
	}
	_, err := f.resolveDiskLink(ctx, sourceRef)
	if errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return nil
}

// Fetch 下载源视频到 destPath。
// Yandex Disk 公开链接先换取直接下载地址，其余链接直接 GET。
func (f *Fetcher) Fetch(ctx context.Context, sourceRef, destPath string) error {
	downloadURL := sourceRef
	if IsYandexDiskLink(sourceRef) {
		resolved, err := f.resolveDiskLink(ctx, sourceRef)
		if err != nil {
			return err
		}
		downloadURL = resolved
	}
	return f.download(ctx, downloadURL, destPath)
}

// resolveDiskLink 用公开链接换取直接下载地址。
// public_key 就是完整的公开链接（需要 URL 编码）。
func (f *Fetcher) resolveDiskLink(ctx context.Context, publicURL string) (string, error) {
	apiURL := f.diskAPI + "?public_key=" + url.QueryEscape(publicURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve disk link: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: disk public api status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("disk public api status %d", resp.StatusCode)
	}

	var out struct {
		Href string `json:"href"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode disk response: %w", err)
	}
	if out.Href == "" {
		return "", fmt.Errorf("%w: disk public api returned empty href", ErrSourceUnavailable)
	}
	return out.Href, nil
}

func (f *Fetcher) download(ctx context.Context, downloadURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("download source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: status %d", ErrSourceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download source: status %d", resp.StatusCode)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create dest file: %w", err)
	}
	defer dest.Close()

	if _, err := io.Copy(dest, resp.Body); err != nil {
		return fmt.Errorf("write dest file: %w", err)
	}
	return nil
}
