package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrUnsupportedFormat 源文件无音轨或无法解码（永久失败）
var ErrUnsupportedFormat = errors.New("unsupported media format")

// ExtractAudio 用 ffmpeg 从视频抽取 mp3 音轨（libmp3lame 192k）。
// ffmpeg 报格式/音轨类错误时返回 ErrUnsupportedFormat。
func ExtractAudio(ctx context.Context, videoPath, mp3Path string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-y",
		"-i", videoPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", "192k",
		mp3Path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := stderr.String()
		if isFormatError(msg) {
			return fmt.Errorf("%w: %s", ErrUnsupportedFormat, lastLine(msg))
		}
		return fmt.Errorf("ffmpeg: %s: %w", lastLine(msg), err)
	}
	return nil
}

// isFormatError 根据 ffmpeg stderr 判断是否为格式类错误
func isFormatError(stderr string) bool {
	for _, marker := range []string{
		"Invalid data found when processing input",
		"does not contain any stream",
		"Stream map 'a' matches no streams",
		"Output file does not contain any stream",
		"moov atom not found",
	} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
