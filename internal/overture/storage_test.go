package overture

import (
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3：内存对象存储，记录 Range 请求
type fakeS3 struct {
	objects map[string][]byte
	ranges  []string
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for k, v := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(v)))})
		}
	}
	return out, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	v, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(v)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	v := f.objects[aws.ToString(in.Key)]
	rng := aws.ToString(in.Range)
	f.ranges = append(f.ranges, rng)
	from, to, _ := strings.Cut(strings.TrimPrefix(rng, "bytes="), "-")
	a, _ := strconv.Atoi(from)
	b, _ := strconv.Atoi(to)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(v[a : b+1]))}, nil
}

func TestParseS3URL(t *testing.T) {
	b, k, err := parseS3URL("s3://overturemaps-us-west-2/release/2024-12-18.0/theme=divisions/type=division/*.parquet")
	require.NoError(t, err)
	assert.Equal(t, "overturemaps-us-west-2", b)
	assert.Equal(t, "release/2024-12-18.0/theme=divisions/type=division/*.parquet", k)
	assert.Equal(t, "release/2024-12-18.0/theme=divisions/type=division/", listPrefix(k))

	_, _, err = parseS3URL("/local/path")
	require.Error(t, err)
	_, _, err = parseS3URL("s3:///key")
	require.Error(t, err)
}

func TestS3ListMatchesPattern(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"rel/type=division/part-1.parquet":      {1},
		"rel/type=division/part-0.parquet":      {1},
		"rel/type=division/_SUCCESS":            {},
		"rel/type=division_area/part-0.parquet": {1},
	}}
	st := &s3Storage{client: fake}
	got, err := st.List(context.Background(), "s3://bkt/rel/type=division/*.parquet")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"s3://bkt/rel/type=division/part-0.parquet",
		"s3://bkt/rel/type=division/part-1.parquet",
	}, got)

	_, err = st.List(context.Background(), "s3://bkt/other/*.parquet")
	require.Error(t, err)

	single, err := st.List(context.Background(), "s3://bkt/rel/type=division/part-0.parquet")
	require.NoError(t, err)
	assert.Len(t, single, 1)
}

func TestS3ObjectRangedReads(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"f.parquet": []byte("0123456789")}}
	st := &s3Storage{client: fake}
	r, closer, err := st.Open(context.Background(), "s3://bkt/f.parquet")
	require.NoError(t, err)
	defer closer.Close()

	size, err := r.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 10, size)

	buf := make([]byte, 4)
	n, err := r.ReadAt(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "2345", string(buf))
	assert.Equal(t, "bytes=2-5", fake.ranges[0])

	n, err = r.ReadAt(buf, 8)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "89", string(buf[:n]))

	_, err = r.ReadAt(buf, 10)
	assert.Equal(t, io.EOF, err)
}
