package collect

import (
	"benritz/dtd/internal/types"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu          sync.Mutex
	objects     map[string][]byte
	contentType map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:     map[string][]byte{},
		contentType: map[string]string{},
	}
}

func (f *fakeS3) put(bucket, key string, b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+key] = b
}

func (f *fakeS3) get(bucket, key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[bucket+"/"+key]
	return b, ok
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b, ok := f.get(aws.ToString(in.Bucket), aws.ToString(in.Key))
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", aws.ToString(in.Key))
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.put(aws.ToString(in.Bucket), aws.ToString(in.Key), b)

	f.mu.Lock()
	f.contentType[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	f.mu.Unlock()

	return &s3.PutObjectOutput{}, nil
}

func testReport(withFailure bool) *types.Report {
	rep := &types.Report{
		RunID:  "1b4e28ba-2fa1-11d2-883f-0016d3cca427",
		Source: "firms",
		Date:   time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC),
		Results: []*types.Result{
			{Row: 1, AssetValue: 165.5, Converged: true, Iterations: 4, DTD: 0.25},
			{Row: 2, AssetValue: 80, Converged: false, Iterations: 1000, DTD: math.NaN()},
		},
	}
	if withFailure {
		rep.Results = append(rep.Results, types.NewFailure(3, fmt.Errorf("%w: %q", types.ErrMissingValue, types.ColShortTermDebt)))
	}
	return rep
}

const firmsCSV = `Market Capitalization,Short Term Debt,Long Term Debt,Other Liability,Daily Risk-Free Rate
100,30,40,10,0.0001
50,20,20,0,0.00008
`

func TestParseS3(t *testing.T) {
	p, err := ParseS3("s3://bucket/in/firms.csv")
	require.NoError(t, err)
	assert.Equal(t, "bucket", p.Bucket)
	assert.Equal(t, "in/firms.csv", p.Key)
	assert.Equal(t, "s3://bucket/in/firms.csv", p.String())

	p, err = ParseS3("s3://bucket/out/")
	require.NoError(t, err)
	assert.Equal(t, "out", p.Key)

	p, err = ParseS3("s3://bucket")
	require.NoError(t, err)
	assert.Equal(t, "", p.Key)
	assert.Equal(t, "s3://bucket", p.String())

	_, err = ParseS3("s3:///key")
	assert.Error(t, err)

	_, err = ParseS3("/tmp/file.csv")
	assert.Error(t, err)
}

func TestNewLoader(t *testing.T) {
	l, err := NewLoader("data/firms.csv", nil)
	require.NoError(t, err)
	assert.IsType(t, &FileLoader{}, l)
	assert.Equal(t, "firms", l.Source())

	l, err = NewLoader("https://example.com/data/firms.html", nil)
	require.NoError(t, err)
	assert.IsType(t, &HTMLLoader{}, l)
	assert.Equal(t, "firms", l.Source())

	l, err = NewLoader("s3://bucket/in/firms.xlsx", newFakeS3())
	require.NoError(t, err)
	assert.IsType(t, &S3Loader{}, l)
	assert.Equal(t, "firms", l.Source())

	_, err = NewLoader("s3://bucket/in/firms.csv", nil)
	assert.ErrorIs(t, err, types.ErrUnsupportedSource)

	_, err = NewLoader("s3://bucket", newFakeS3())
	assert.ErrorIs(t, err, types.ErrUnsupportedSource)

	_, err = NewLoader("", nil)
	assert.ErrorIs(t, err, types.ErrUnsupportedSource)
}

func TestOutputKey(t *testing.T) {
	rep := testReport(false)
	assert.Equal(t, "2025/03/31/firms-1b4e28ba.csv", OutputKey(rep, FormatCSV))
	assert.Equal(t, "2025/03/31/firms-1b4e28ba.parquet", OutputKey(rep, FormatParquet))

	rep.Source = ""
	rep.RunID = "abc"
	assert.Equal(t, "2025/03/31/dtd-abc.json", OutputKey(rep, FormatJSON))
}

func TestStoreToPath(t *testing.T) {
	dir := t.TempDir()

	out, err := StoreToPath(context.Background(), testReport(false), dir, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2025", "03", "31", "firms-1b4e28ba.csv"), out)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "Row,AV,Converged,DTD\n"))
}

func TestS3RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	client.put("in", "uploads/firms.csv", []byte(firmsCSV))

	l, err := NewLoader("s3://in/uploads/firms.csv", client)
	require.NoError(t, err)

	table, err := l.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "firms", table.Source)
	assert.Equal(t, types.InputColumns, table.Header)
	assert.Len(t, table.Rows, 2)

	dst, err := ParseS3("s3://out/results")
	require.NoError(t, err)

	out, err := StoreToS3(ctx, testReport(true), client, dst, FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "s3://out/results/2025/03/31/firms-1b4e28ba.csv", out)

	b, ok := client.get("out", "results/2025/03/31/firms-1b4e28ba.csv")
	require.True(t, ok)
	assert.Contains(t, string(b), "Row,AV,Converged,DTD,Error\n")
	assert.Equal(t, "text/csv", client.contentType["results/2025/03/31/firms-1b4e28ba.csv"])
}

func TestS3Loader_MissingObject(t *testing.T) {
	l := NewS3Loader(newFakeS3(), &S3Path{Bucket: "in", Key: "missing.csv"})
	_, err := l.Load(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "s3://in/missing.csv")
}

func TestFileLoader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileLoader("firms.csv", "").Load(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
