package keystore

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GetSecretKeyMethod is the key daemon RPC. The request is a StringValue key
// id; the response is a BytesValue holding a seed or a full keypair.
const GetSecretKeyMethod = "/keyvault.v1.KeyVault/GetSecretKey"

// Daemon is a client for the local key daemon.
type Daemon struct {
	conn *grpc.ClientConn
}

// DialDaemon connects to target. Without opts the connection is plaintext,
// since the daemon only listens on the host.
func DialDaemon(target string, opts ...grpc.DialOption) (*Daemon, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("keystore: grpc dial %s: %w", target, err)
	}
	return &Daemon{conn: conn}, nil
}

func (d *Daemon) Close() error {
	return d.conn.Close()
}

// SecretKey fetches the key stored under keyID.
func (d *Daemon) SecretKey(ctx context.Context, keyID string) (solana.PrivateKey, error) {
	resp := new(wrapperspb.BytesValue)
	if err := d.conn.Invoke(ctx, GetSecretKeyMethod, wrapperspb.String(keyID), resp); err != nil {
		return nil, fmt.Errorf("keystore: GetSecretKey %q: %w", keyID, err)
	}
	if len(resp.GetValue()) == 0 {
		return nil, fmt.Errorf("keystore: GetSecretKey %q returned an empty key", keyID)
	}
	key, err := fromBytes(resp.GetValue())
	if err != nil {
		return nil, fmt.Errorf("keystore: GetSecretKey %q: %w", keyID, err)
	}
	return key, nil
}
