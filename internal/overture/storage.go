package overture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
)

// storage：把路径模式展开为文件列表并按需打开
type storage interface {
	List(ctx context.Context, pattern string) ([]string, error)
	Open(ctx context.Context, name string) (parquet.ReaderAtSeeker, io.Closer, error)
}

type localStorage struct{}

func (localStorage) List(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "bad pattern %s", pattern)
	}
	if len(matches) == 0 {
		return nil, errors.Newf("no parquet files match %s", pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

func (localStorage) Open(_ context.Context, name string) (parquet.ReaderAtSeeker, io.Closer, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", name)
	}
	return f, f, nil
}

// s3API：S3 客户端中本包用到的部分
type s3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type s3Storage struct {
	client s3API
}

// newS3Client：公开桶默认匿名读取
func newS3Client(ctx context.Context, region string, anonymous bool) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if anonymous {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.AnonymousCredentials{}))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return s3.NewFromConfig(cfg), nil
}

// parseS3URL："s3://bucket/a/b/*.parquet" → (bucket, "a/b/*.parquet")
func parseS3URL(u string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", errors.Newf("not an s3 url: %s", u)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.Newf("missing bucket in %s", u)
	}
	return bucket, key, nil
}

// listPrefix：通配符之前的固定前缀，用作 ListObjectsV2 的 Prefix
func listPrefix(keyPattern string) string {
	if i := strings.IndexAny(keyPattern, "*?["); i >= 0 {
		return keyPattern[:i]
	}
	return keyPattern
}

func (s *s3Storage) List(ctx context.Context, pattern string) ([]string, error) {
	bucket, keyPattern, err := parseS3URL(pattern)
	if err != nil {
		return nil, err
	}
	prefix := listPrefix(keyPattern)
	if prefix == keyPattern {
		return []string{pattern}, nil
	}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	var out []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "list s3://%s/%s", bucket, prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if ok, _ := path.Match(keyPattern, key); ok {
				out = append(out, "s3://"+bucket+"/"+key)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.Newf("no parquet objects match %s", pattern)
	}
	sort.Strings(out)
	return out, nil
}

func (s *s3Storage) Open(ctx context.Context, name string) (parquet.ReaderAtSeeker, io.Closer, error) {
	bucket, key, err := parseS3URL(name)
	if err != nil {
		return nil, nil, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "head %s", name)
	}
	obj := &s3Object{ctx: ctx, client: s.client, bucket: bucket, key: key, size: aws.ToInt64(head.ContentLength)}
	return obj, nopCloser{}, nil
}

// s3Object：按 Range 读取对象，满足 parquet 读取器需要的 ReaderAt + Seeker
type s3Object struct {
	ctx    context.Context
	client s3API
	bucket string
	key    string
	size   int64
	pos    int64
}

func (o *s3Object) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off >= o.size {
		return 0, io.EOF
	}
	end := off + int64(len(p)) - 1
	if end >= o.size {
		end = o.size - 1
	}
	out, err := o.client.GetObject(o.ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		return 0, errors.Wrapf(err, "get s3://%s/%s", o.bucket, o.key)
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (o *s3Object) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = o.pos + offset
	case io.SeekEnd:
		next = o.size + offset
	default:
		return 0, errors.Newf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative position")
	}
	o.pos = next
	return next, nil
}

func (o *s3Object) Read(p []byte) (int, error) {
	n, err := o.ReadAt(p, o.pos)
	o.pos += int64(n)
	return n, err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
