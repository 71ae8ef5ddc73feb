package main

import (
	"context"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/h5p-web/internal/cfg"
	"github.com/keithlinneman/h5p-web/internal/h5p"
	"github.com/keithlinneman/h5p-web/internal/h5p/fsstore"
	"github.com/keithlinneman/h5p-web/internal/h5p/s3store"
	"github.com/keithlinneman/h5p-web/internal/log"
	"github.com/keithlinneman/h5p-web/internal/xerrors"
)

// temporaryStorageDir holds editor uploads under the temporary path, apart
// from the multipart staging files.
const temporaryStorageDir = "h5p-temporary-storage"

type stores struct {
	content   h5p.ContentStorage
	libraries h5p.LibraryStorage
	userData  h5p.UserDataStorage
	temporary h5p.TemporaryFileStorage
}

// newStores builds the storage ports. Only content storage has an S3
// backend; libraries, user data and temporary files stay on disk.
func newStores(ctx context.Context, conf cfg.App, paths cfg.Paths, L log.Logger) (*stores, error) {
	var s stores
	var err error

	switch conf.ContentStorage {
	case cfg.StorageS3:
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load aws config")
		}
		s.content, err = s3store.New(ctx, s3store.Options{
			Logger:    L,
			Bucket:    conf.ContentS3Bucket,
			Prefix:    conf.ContentS3Prefix,
			AWSConfig: &awsCfg,
		})
		if err != nil {
			return nil, err
		}
		L.Info(ctx, "content storage on s3", "bucket", conf.ContentS3Bucket, "prefix", conf.ContentS3Prefix)
	default:
		if s.content, err = fsstore.NewContentStore(paths.Content); err != nil {
			return nil, err
		}
	}

	if s.libraries, err = fsstore.NewLibraryStore(paths.Libraries); err != nil {
		return nil, err
	}
	if s.userData, err = fsstore.NewUserDataStore(paths.UserData); err != nil {
		return nil, err
	}
	if s.temporary, err = fsstore.NewTempStore(filepath.Join(paths.Temporary, temporaryStorageDir)); err != nil {
		return nil, err
	}
	return &s, nil
}
