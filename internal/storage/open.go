package storage

import (
	"context"
	"fmt"

	"adgmanager/internal/config"

	"github.com/sirupsen/logrus"
)

// Open builds both scopes from configuration. On failure any scope already
// opened is closed again.
func Open(ctx context.Context, cfg config.StorageConfig) (Scopes, error) {
	local, err := openScope(ctx, ScopeLocal, cfg.Local)
	if err != nil {
		return Scopes{}, err
	}

	sync, err := openScope(ctx, ScopeSync, cfg.Sync)
	if err != nil {
		if c, ok := local.(Closer); ok {
			c.Close()
		}
		return Scopes{}, err
	}

	return Scopes{Local: local, Sync: sync}, nil
}

func openScope(ctx context.Context, scope Scope, sc config.StoreConfig) (Store, error) {
	logrus.WithFields(logrus.Fields{"scope": scope, "backend": sc.Backend}).Debug("Opening store")
	st, err := OpenStore(ctx, sc)
	if err != nil {
		return nil, fmt.Errorf("%s storage: %w", scope, err)
	}
	return st, nil
}

// OpenStore opens a single backend
func OpenStore(ctx context.Context, sc config.StoreConfig) (Store, error) {
	switch sc.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile:
		return NewFileStore(sc.Path)
	case config.BackendSQLite:
		return OpenSQLite(ctx, sc.Path)
	case config.BackendRedis:
		return OpenRedis(ctx, RedisOptions{
			Addr:      sc.Redis.Addr,
			Username:  sc.Redis.Username,
			Password:  sc.Redis.Password,
			DB:        sc.Redis.DB,
			KeyPrefix: sc.Redis.KeyPrefix,
		})
	case config.BackendS3:
		creds, err := config.GetAWSCredentials(&sc.S3)
		if err != nil {
			return nil, err
		}
		logrus.WithField("source", creds.Source).Debug("Resolved AWS credentials")
		return OpenS3(ctx, S3Options{
			Bucket:          sc.S3.Bucket,
			Region:          sc.S3.Region,
			Prefix:          sc.S3.Prefix,
			Endpoint:        sc.S3.Endpoint,
			UsePathStyle:    sc.S3.UsePathStyle,
			AccessKeyID:     creds.AccessKeyID,
			SecretAccessKey: creds.SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}
