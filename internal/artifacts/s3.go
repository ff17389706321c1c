package artifacts

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/sirupsen/logrus"

	"github.com/propstack/mlserve/pkg/errors"
)

// S3Config holds configuration for S3 artifact storage
type S3Config struct {
	Region          string        `json:"region"`
	Bucket          string        `json:"bucket"`
	AccessKeyID     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty"`
	Endpoint        string        `json:"endpoint,omitempty"`
	ForcePathStyle  bool          `json:"force_path_style"`
	Prefix          string        `json:"prefix"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
}

// S3Store implements Store on AWS S3. References have the form
// s3://bucket/key.
type S3Store struct {
	config     *S3Config
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	logger     *logrus.Logger
}

// NewS3Store creates a new S3 artifact store
func NewS3Store(config *S3Config, logger *logrus.Logger) (*S3Store, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeStorageError, "S3 config cannot be nil")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeStorageError, "S3 bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	awsConfig := &aws.Config{
		Region:           aws.String(config.Region),
		S3ForcePathStyle: aws.Bool(config.ForcePathStyle),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
	}
	if config.MaxRetries > 0 {
		awsConfig.MaxRetries = aws.Int(config.MaxRetries)
	}
	if config.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			config.AccessKeyID, config.SecretAccessKey, config.SessionToken)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			"failed to create S3 session")
	}

	return &S3Store{
		config:     config,
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		logger:     logger,
	}, nil
}

// Put uploads an artifact and returns its s3:// reference
func (ss *S3Store) Put(ctx context.Context, modelID, version string, artifact io.Reader) (string, error) {
	key := ss.objectKey(modelID, version)

	_, err := ss.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(ss.config.Bucket),
		Key:    aws.String(key),
		Body:   artifact,
	})
	if err != nil {
		return "", errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
			"failed to upload artifact")
	}

	ref := fmt.Sprintf("s3://%s/%s", ss.config.Bucket, key)
	ss.logger.WithFields(logrus.Fields{
		"model_id": modelID,
		"version":  version,
		"ref":      ref,
	}).Info("Uploaded model artifact to S3")

	return ref, nil
}

// Fetch downloads the artifact bytes for a reference
func (ss *S3Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return nil, err
	}

	buf := aws.NewWriteAtBuffer(nil)
	_, err = ss.downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.NewNotFoundError("artifact", ref)
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
			"failed to download artifact")
	}

	return buf.Bytes(), nil
}

// Delete removes a stored artifact
func (ss *S3Store) Delete(ctx context.Context, ref string) error {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return err
	}

	_, err = ss.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
			"failed to delete artifact")
	}

	ss.logger.WithField("ref", ref).Info("Deleted model artifact from S3")
	return nil
}

// Exists reports whether the reference resolves to a stored artifact
func (ss *S3Store) Exists(ctx context.Context, ref string) (bool, error) {
	bucket, key, err := parseS3Ref(ref)
	if err != nil {
		return false, err
	}

	_, err = ss.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok &&
			(aerr.Code() == "NotFound" || aerr.Code() == s3.ErrCodeNoSuchKey) {
			return false, nil
		}
		return false, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeStorageError,
			"failed to check artifact")
	}
	return true, nil
}

// Ping verifies the configured bucket is reachable
func (ss *S3Store) Ping(ctx context.Context) error {
	_, err := ss.s3Client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(ss.config.Bucket),
	})
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			"failed to reach artifact bucket")
	}
	return nil
}

func (ss *S3Store) objectKey(modelID, version string) string {
	return path.Join(ss.config.Prefix, modelID, version, "model.bin")
}

func parseS3Ref(ref string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(ref, "s3://")
	if trimmed == ref {
		return "", "", errors.NewValidationError(errors.CodeInvalidFormat, "artifact reference is not an s3:// URI")
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.NewValidationError(errors.CodeInvalidFormat, "malformed s3 artifact reference")
	}
	return parts[0], parts[1], nil
}
