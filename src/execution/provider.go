package execution

import (
	"context"
	"fmt"
	"sync"

	"tradeengine/src/connectors"
	"tradeengine/src/model"
	"tradeengine/src/repository"
)

// ConnectionStore is the slice of the connection repository the provider
// needs.
type ConnectionStore interface {
	FindByID(ctx context.Context, id uint) (*model.BrokerConnection, error)
	AccessToken(conn *model.BrokerConnection) (string, error)
}

// BrokerProvider resolves a broker connection id into a ready-to-call
// connector plus the session access token.
type BrokerProvider interface {
	BrokerFor(ctx context.Context, connectionID uint) (connectors.Broker, string, error)
}

// ConnectorProvider builds REST connectors from stored broker connections.
// Clients are cached per API key; the decrypted access token is never
// cached, it is re-derived from the stored cipher on every call.
type ConnectorProvider struct {
	connections ConnectionStore

	mu      sync.Mutex
	clients map[string]connectors.Broker
}

func NewConnectorProvider(connections ConnectionStore) *ConnectorProvider {
	return &ConnectorProvider{
		connections: connections,
		clients:     map[string]connectors.Broker{},
	}
}

func (p *ConnectorProvider) BrokerFor(ctx context.Context, connectionID uint) (connectors.Broker, string, error) {
	conn, err := p.connections.FindByID(ctx, connectionID)
	if err != nil {
		return nil, "", err
	}
	if conn == nil {
		return nil, "", fmt.Errorf("broker connection %d not found", connectionID)
	}
	if conn.Status != model.ConnectionStatusActive {
		return nil, "", fmt.Errorf("broker connection %d is %s", connectionID, conn.Status)
	}

	token, err := p.connections.AccessToken(conn)
	if err != nil {
		return nil, "", fmt.Errorf("broker connection %d token: %w", connectionID, err)
	}

	p.mu.Lock()
	client, ok := p.clients[conn.APIKey]
	if !ok {
		client = connectors.NewRESTClient(conn.APIKey, "")
		p.clients[conn.APIKey] = client
	}
	p.mu.Unlock()

	return client, token, nil
}

var _ ConnectionStore = (*repository.ConnectionRepository)(nil)
