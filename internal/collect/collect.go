package collect

import (
	"benritz/dtd/internal/types"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Loader reads an input table from one source.
type Loader interface {
	Load(ctx context.Context) (*types.Table, error)
	Source() string
}

// S3API is the subset of the S3 client used for loading and storing tables.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewLoader picks a loader for the input location: s3://bucket/key, an
// http(s) page containing an HTML table, or a local file.
func NewLoader(location string, client S3API) (Loader, error) {
	switch {
	case strings.HasPrefix(location, "s3://"):
		p, err := ParseS3(location)
		if err != nil {
			return nil, err
		}
		if p.Key == "" {
			return nil, fmt.Errorf("%w: missing object key in %s", types.ErrUnsupportedSource, location)
		}
		if client == nil {
			return nil, fmt.Errorf("%w: no S3 client for %s", types.ErrUnsupportedSource, location)
		}
		return NewS3Loader(client, p), nil
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return NewHTMLLoader(location), nil
	case location == "":
		return nil, fmt.Errorf("%w: empty location", types.ErrUnsupportedSource)
	default:
		return NewFileLoader(location, ""), nil
	}
}

// S3Path is an S3 location. Key is an object key, or a key prefix when the
// path is a destination.
type S3Path struct {
	Bucket string
	Key    string
}

func (p *S3Path) String() string {
	if p.Key == "" {
		return fmt.Sprintf("s3://%s", p.Bucket)
	}
	return fmt.Sprintf("s3://%s/%s", p.Bucket, p.Key)
}

func ParseS3(path string) (*S3Path, error) {
	if !strings.HasPrefix(path, "s3://") {
		return nil, fmt.Errorf("path must start with s3://")
	}

	path = strings.TrimPrefix(path, "s3://")
	parts := strings.SplitN(path, "/", 2)

	bucket := parts[0]
	if bucket == "" {
		return nil, fmt.Errorf("missing bucket in s3://%s", path)
	}

	var key string

	if len(parts) > 1 {
		key = strings.TrimSuffix(parts[1], "/")
	}

	return &S3Path{
		Bucket: bucket,
		Key:    key,
	}, nil
}

// OutputKey is the date partitioned relative location of a report, e.g.
// 2025/03/31/firms-1b4e28ba.csv
func OutputKey(rep *types.Report, f Format) string {
	date := rep.Date.UTC()

	name := rep.Source
	if name == "" {
		name = "dtd"
	}

	id := rep.RunID
	if len(id) > 8 {
		id = id[:8]
	}

	return fmt.Sprintf(
		"%04d/%02d/%02d/%s-%s.%s",
		date.Year(),
		date.Month(),
		date.Day(),
		name,
		id,
		f.Ext(),
	)
}

// WriteFile writes the report to the file at path, creating parent dirs.
func WriteFile(rep *types.Report, path string, f Format) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return "", err
	}

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := Write(file, f, rep); err != nil {
		return "", err
	}

	if err := file.Close(); err != nil {
		return "", err
	}

	return path, nil
}

// StoreToPath writes the report below basepath using OutputKey.
func StoreToPath(ctx context.Context, rep *types.Report, basepath string, f Format) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := filepath.FromSlash(OutputKey(rep, f))
	return WriteFile(rep, filepath.Join(basepath, key), f)
}

func StoreToS3(ctx context.Context, rep *types.Report, client S3API, dst *S3Path, f Format) (string, error) {
	tmp, err := os.CreateTemp("", "dtd-*."+f.Ext())
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %v", err)
	}
	defer tmp.Close()
	defer os.Remove(tmp.Name())

	if err := Write(tmp, f, rep); err != nil {
		return "", err
	}

	if _, err := tmp.Seek(0, 0); err != nil {
		return "", fmt.Errorf("failed to seek to start of file: %w", err)
	}

	key := OutputKey(rep, f)

	if dst.Key != "" {
		key = fmt.Sprintf("%s/%s", dst.Key, key)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(dst.Bucket),
		Key:         aws.String(key),
		Body:        tmp,
		ContentType: aws.String(f.ContentType()),
	}

	if _, err := client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload file to s3://%s/%s: %w", dst.Bucket, key, err)
	}

	outPath := fmt.Sprintf("s3://%s/%s", dst.Bucket, key)

	return outPath, nil
}
