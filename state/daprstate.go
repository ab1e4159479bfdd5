package state

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	daprc "github.com/dapr/go-sdk/client"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultStateStoreName = "statestore"
	defaultDaprGRPCPort   = "50001"
	defaultKeyPrefix      = "catalog-harvester"
)

// daprStateClient is the subset of the Dapr client used for state.
type daprStateClient interface {
	GetState(ctx context.Context, storeName, key string, meta map[string]string) (*daprc.StateItem, error)
	SaveState(ctx context.Context, storeName, key string, data []byte, meta map[string]string, so ...daprc.StateOption) error
	DeleteState(ctx context.Context, storeName, key string, meta map[string]string) error
	Close()
}

// DaprStateStore keeps the checkpoint and the error queue in a Dapr state
// store, so a harvester running as a job can resume on another node.
type DaprStateStore struct {
	client         daprStateClient
	stateStoreName string
	checkpointKey  string
	queueKey       string
}

func GetEnvValue(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// NewDaprStateStore connects to the local Dapr sidecar over gRPC.
//
// Parameters:
//   - config: state store name, sidecar gRPC port and key prefix. Empty values
//     fall back to "statestore", $DAPR_GRPC_PORT (or 50001) and
//     "catalog-harvester".
func NewDaprStateStore(config DaprConfig) (*DaprStateStore, error) {
	port := config.GRPCPort
	if port == "" {
		port = GetEnvValue("DAPR_GRPC_PORT", defaultDaprGRPCPort)
	}

	conn, err := grpc.Dial(
		net.JoinHostPort("127.0.0.1", port),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	client := daprc.NewClientWithConnection(conn)
	return newDaprStateStore(client, config), nil
}

func newDaprStateStore(client daprStateClient, config DaprConfig) *DaprStateStore {
	storeName := config.StateStoreName
	if storeName == "" {
		storeName = defaultStateStoreName
	}
	prefix := strings.TrimSuffix(config.KeyPrefix, "/")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	log.Info().Str("state_store", storeName).Str("prefix", prefix).Msg("Using Dapr state store")

	return &DaprStateStore{
		client:         client,
		stateStoreName: storeName,
		checkpointKey:  prefix + "/checkpoint",
		queueKey:       prefix + "/error-queue",
	}
}

// Load returns the stored checkpoint page.
func (d *DaprStateStore) Load(ctx context.Context) (int, error) {
	item, err := d.client.GetState(ctx, d.stateStoreName, d.checkpointKey, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get checkpoint from dapr: %w", err)
	}
	if item == nil || len(item.Value) == 0 {
		return DefaultCheckpointPage, nil
	}

	page, err := parseCheckpoint(item.Value)
	if err != nil {
		log.Warn().Err(err).Str("key", d.checkpointKey).Msg("Checkpoint unreadable, starting from page 1")
		return DefaultCheckpointPage, nil
	}
	return page, nil
}

// Save stores page as the checkpoint.
func (d *DaprStateStore) Save(ctx context.Context, page int) error {
	if err := d.client.SaveState(ctx, d.stateStoreName, d.checkpointKey, []byte(strconv.Itoa(page)), nil); err != nil {
		return fmt.Errorf("failed to save checkpoint to dapr: %w", err)
	}
	log.Info().Int("page", page).Msg("Checkpoint updated")
	return nil
}

// LoadAll returns the queued URLs.
func (d *DaprStateStore) LoadAll(ctx context.Context) ([]string, error) {
	item, err := d.client.GetState(ctx, d.stateStoreName, d.queueKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get error queue from dapr: %w", err)
	}
	if item == nil || len(item.Value) == 0 {
		return nil, nil
	}

	var urls []string
	if err := json.Unmarshal(item.Value, &urls); err != nil {
		return nil, fmt.Errorf("failed to decode error queue: %w", err)
	}
	return urls, nil
}

// Append adds url to the queue with a read-modify-write of the queue key.
func (d *DaprStateStore) Append(ctx context.Context, url string) error {
	urls, err := d.LoadAll(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(append(urls, url))
	if err != nil {
		return fmt.Errorf("failed to encode error queue: %w", err)
	}
	if err := d.client.SaveState(ctx, d.stateStoreName, d.queueKey, data, nil); err != nil {
		return fmt.Errorf("failed to save error queue to dapr: %w", err)
	}
	return nil
}

// Clear deletes the queue key.
func (d *DaprStateStore) Clear(ctx context.Context) error {
	if err := d.client.DeleteState(ctx, d.stateStoreName, d.queueKey, nil); err != nil {
		return fmt.Errorf("failed to clear error queue in dapr: %w", err)
	}
	log.Info().Str("key", d.queueKey).Msg("Error queue cleared")
	return nil
}

// Close closes the sidecar connection.
func (d *DaprStateStore) Close() error {
	d.client.Close()
	return nil
}
