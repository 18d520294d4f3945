package stores

import (
	"context"
	"fmt"
	"os"

	"emojiart-server/core"
	"emojiart-server/stores/aws"
	"emojiart-server/stores/filesystem"
	"emojiart-server/stores/memory"
	"emojiart-server/stores/sqlite"

	"github.com/sirupsen/logrus"
)

// Store bundles the backends selected by STORAGE_TYPE. Snapshots is nil
// unless the backend is sqlite. Backends without a room registry share an
// in-memory one.
type Store struct {
	Documents core.DocumentStore
	Rooms     core.RoomRegistry
	Snapshots core.SnapshotStore

	close func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func GetStore(ctx context.Context) (*Store, error) {
	storageType := os.Getenv("STORAGE_TYPE")
	store := &Store{}

	storageField := logrus.Fields{
		"storageType": storageType,
	}

	switch storageType {
	case "filesystem":
		basePath := os.Getenv("LOCAL_STORAGE_PATH")
		if basePath == "" {
			basePath = "./data"
		}
		storageField["basePath"] = basePath
		fs, err := filesystem.NewStore(basePath)
		if err != nil {
			return nil, err
		}
		store.Documents = fs
	case "sqlite":
		dataSourceName := os.Getenv("DATA_SOURCE_NAME")
		if dataSourceName == "" {
			dataSourceName = "emojiart.db"
		}
		storageField["dataSourceName"] = dataSourceName
		db, err := sqlite.NewStore(dataSourceName)
		if err != nil {
			return nil, err
		}
		store.Documents = db
		store.Rooms = db
		store.Snapshots = db
		store.close = db.Close
	case "s3":
		bucketName := os.Getenv("S3_BUCKET_NAME")
		if bucketName == "" {
			return nil, fmt.Errorf("S3_BUCKET_NAME environment variable must be set for s3 storage type")
		}
		storageField["bucketName"] = bucketName
		s3, err := aws.NewStore(ctx, bucketName)
		if err != nil {
			return nil, err
		}
		store.Documents = s3
	default:
		mem := memory.NewStore()
		store.Documents = mem
		store.Rooms = mem
		storageField["storageType"] = "in-memory"
	}

	if store.Rooms == nil {
		store.Rooms = memory.NewStore()
	}

	storageField["snapshots"] = store.Snapshots != nil
	logrus.WithFields(storageField).Info("Use storage")
	return store, nil
}
