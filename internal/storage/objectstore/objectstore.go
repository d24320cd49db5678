package objectstore

import (
	"context"
	"fmt"

	"github.com/kbchat/backend/pkg/config"
)

// New opens the store named by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "s3":
		return NewS3StoreFromConfig(ctx, cfg)
	case "local":
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
