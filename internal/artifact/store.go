package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/azhengyongqin/lecture-hub/internal/model"
)

// ErrObjectNotFound 对象不存在
var ErrObjectNotFound = fmt.Errorf("artifact object not found")

// Store 对象存储客户端（S3 兼容端点）。
// 所有产物 key 都由 task_id 决定，重跑阶段写同一个 key，发布天然幂等。
type Store struct {
	s3     *s3.S3
	bucket string
}

// Config 对象存储连接配置
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
}

// NewStore 创建对象存储客户端
func NewStore(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Store{s3: s3.New(sess), bucket: cfg.Bucket}, nil
}

// Key 返回某个任务某类产物的确定性 key
func Key(taskID string, kind model.ArtifactKind) string {
	switch kind {
	case model.ArtifactAudio:
		return "audio/" + taskID + ".mp3"
	case model.ArtifactTranscript:
		return "transcripts/" + taskID + ".txt"
	case model.ArtifactNotes:
		return "notes/" + taskID + ".md"
	default:
		return ""
	}
}

// ContentType 产物的 MIME 类型
func ContentType(kind model.ArtifactKind) string {
	switch kind {
	case model.ArtifactAudio:
		return "audio/mpeg"
	case model.ArtifactTranscript:
		return "text/plain; charset=utf-8"
	case model.ArtifactNotes:
		return "text/markdown; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// Put 写入对象（覆盖写）
func (s *Store) Put(ctx context.Context, key, contentType string, body io.ReadSeeker) error {
	_, err := s.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        aws.ReadSeekCloser(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// PutBytes 写入小对象（transcript/notes 文本）
func (s *Store) PutBytes(ctx context.Context, key, contentType string, data []byte) error {
	return s.Put(ctx, key, contentType, bytes.NewReader(data))
}

// PutIfAbsent 幂等写入：对象已存在时跳过，返回是否真正写入。
func (s *Store) PutIfAbsent(ctx context.Context, key, contentType string, body io.ReadSeeker) (bool, error) {
	exists, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := s.Put(ctx, key, contentType, body); err != nil {
		return false, err
	}
	return true, nil
}

// Exists 判断对象是否存在
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", key, err)
	}
	return true, nil
}

// Get 读取对象，返回内容流、大小与 content-type
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, string, error) {
	out, err := s.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, "", ErrObjectNotFound
		}
		return nil, 0, "", fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, aws.Int64Value(out.ContentLength), aws.StringValue(out.ContentType), nil
}

// GetBytes 读取小对象全文（transcript 断点恢复用）
func (s *Store) GetBytes(ctx context.Context, key string) ([]byte, error) {
	body, _, _, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// PresignGet 生成对象的预签名下载链接（语音识别服务从这里拉取音频）
func (s *Store) PresignGet(key string, expiry time.Duration) (string, error) {
	req, _ := s.s3.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(expiry)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return url, nil
}

// DeleteAll 删除某个任务的全部产物（管理端删除用）
func (s *Store) DeleteAll(ctx context.Context, taskID string) error {
	for _, kind := range []model.ArtifactKind{model.ArtifactAudio, model.ArtifactTranscript, model.ArtifactNotes} {
		_, err := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(Key(taskID, kind)),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("delete %s: %w", Key(taskID, kind), err)
		}
	}
	return nil
}

// CleanupOlderThan 删除某个前缀下超龄的对象，返回删除数量。
// 用于 worker 定期清理中间产物（音频体积大，过期即删）。
func (s *Store) CleanupOlderThan(ctx context.Context, prefix string, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	err := s.s3.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if obj.LastModified == nil || obj.LastModified.After(cutoff) {
				continue
			}
			_, derr := s.s3.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if derr == nil {
				deleted++
			}
		}
		return true
	})
	if err != nil {
		return deleted, fmt.Errorf("list %s: %w", prefix, err)
	}
	return deleted, nil
}

// Ping 健康检查：HeadBucket
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.s3.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	return err
}

func isNotFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound", "NoSuchBucket":
			return true
		}
	}
	// HeadObject 的 404 有时不带 code，兜底按消息判断
	return err != nil && strings.Contains(err.Error(), "status code: 404")
}
