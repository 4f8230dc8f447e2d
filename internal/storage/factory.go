package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/common"
	"github.com/ternarybob/relay/internal/interfaces"
	"github.com/ternarybob/relay/internal/storage/badger"
	"github.com/ternarybob/relay/internal/storage/memory"
	"github.com/ternarybob/relay/internal/storage/mongo"
	"github.com/ternarybob/relay/internal/storage/redis"
)

// NewStorageManager creates a storage manager for the configured backend
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	storageType := config.Storage.Type
	if storageType == "" {
		storageType = "badger"
	}

	logger.Info().Str("type", storageType).Msg("Initializing storage")

	switch storageType {
	case "badger":
		return badger.NewManager(logger, &config.Storage.Badger)
	case "mongodb":
		return mongo.NewManager(logger, &config.Storage)
	case "redis":
		return redis.NewManager(logger, &config.Storage)
	case "memory":
		return memory.NewManager(logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
