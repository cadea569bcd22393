// Package mirror backs up the gateway's local store to object storage.
// Mirroring is best effort and asynchronous to the client: a mirror failure
// is logged, never surfaced in a response.
package mirror

import (
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"
)

// Mirror receives local store mutations. Implementations must tolerate
// concurrent calls from independent client connections.
type Mirror interface {
	Put(key string, body io.Reader) error
	Delete(key string) error
}

// S3Mirror mirrors local files into one bucket, keyed by the path relative
// to the local root.
type S3Mirror struct {
	uploader *s3manager.Uploader
	client   *s3.S3
	bucket   string
	log      *zap.SugaredLogger
}

func NewS3(bucket, region string, log *zap.SugaredLogger) (*S3Mirror, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return &S3Mirror{
		uploader: s3manager.NewUploader(sess),
		client:   s3.New(sess),
		bucket:   bucket,
		log:      log,
	}, nil
}

func (m *S3Mirror) Put(key string, body io.Reader) error {
	_, err := m.uploader.Upload(&s3manager.UploadInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return err
}

func (m *S3Mirror) Delete(key string) error {
	_, err := m.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	return err
}
