package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	qdrantclient "github.com/fyrsmithlabs/mirrord/internal/qdrant"
)

// NewStore creates a Store for the named provider.
//
//   - "chromem" (default): embedded ChromemStore, no external service
//   - "qdrant": QdrantStore, requires a reachable Qdrant server
//
// For the qdrant provider a gRPC connection is established and health-checked
// before the store is returned.
func NewStore(provider string, chromemCfg ChromemConfig, qdrantCfg QdrantConfig, clientCfg *qdrantclient.ClientConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch provider {
	case "chromem", "":
		return NewChromemStore(chromemCfg, embedder, logger)

	case "qdrant":
		client, err := qdrantclient.NewGRPCClient(clientCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		store, err := NewQdrantStore(qdrantCfg, client, embedder, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return store, nil

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider: %s (supported: chromem, qdrant)", ErrInvalidConfig, provider)
	}
}
