package collect

import (
	"benritz/dtd/internal/types"
	"context"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Loader downloads an input object to a temp file and reads it with a
// FileLoader, so the key extension decides the file type.
type S3Loader struct {
	client S3API
	src    *S3Path
}

func NewS3Loader(client S3API, src *S3Path) *S3Loader {
	return &S3Loader{client: client, src: src}
}

func (l *S3Loader) Source() string {
	base := path.Base(l.src.Key)
	return base[:len(base)-len(path.Ext(base))]
}

func (l *S3Loader) Load(ctx context.Context) (*types.Table, error) {
	out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.src.Bucket),
		Key:    aws.String(l.src.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", l.src, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp("", "dtd-*"+path.Ext(l.src.Key))
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, out.Body)
	tmp.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", l.src, err)
	}

	return NewFileLoader(tmp.Name(), path.Base(l.src.Key)).Load(ctx)
}
