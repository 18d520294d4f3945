package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"emojiart-server/core"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "documents/"

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Store struct {
	client ObjectAPI
	bucket string
}

// NewStore builds an S3 client from the default AWS configuration chain.
func NewStore(ctx context.Context, bucketName string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewStoreWithClient(s3.NewFromConfig(cfg), bucketName), nil
}

func NewStoreWithClient(client ObjectAPI, bucketName string) *Store {
	return &Store{client: client, bucket: bucketName}
}

func (s *Store) key(id string) string {
	return keyPrefix + id
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *Store) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithFields(logrus.Fields{"document_id": id, "bucket": s.bucket})

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			log.WithField("error", "document not found").Warn("Document with specified ID not found")
			return nil, core.DocumentNotFound(id)
		}
		log.WithError(err).Error("Failed to get document")
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", id, err)
	}
	return &core.Document{Data: *bytes.NewBuffer(data)}, nil
}

func (s *Store) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	if err := s.put(ctx, id, document); err != nil {
		return "", err
	}
	logrus.WithFields(logrus.Fields{
		"document_id": id,
		"data_length": document.Data.Len(),
	}).Info("Document created successfully")
	return id, nil
}

func (s *Store) Update(ctx context.Context, id string, document *core.Document) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	return s.put(ctx, id, document)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.exists(ctx, id); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	logrus.WithField("document_id", id).Info("Document deleted successfully")
	return nil
}

func (s *Store) put(ctx context.Context, id string, document *core.Document) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(document.Data.Bytes()),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		logrus.WithField("document_id", id).WithError(err).Error("Failed to upload document")
		return fmt.Errorf("upload document %s: %w", id, err)
	}
	return nil
}

func (s *Store) exists(ctx context.Context, id string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return core.DocumentNotFound(id)
		}
		return fmt.Errorf("head document %s: %w", id, err)
	}
	return nil
}
