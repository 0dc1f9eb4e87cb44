package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vultisig/txengine/internal/types"
)

// KeyResolver turns a wallet id into a usable signing key.
type KeyResolver interface {
	ResolveSigner(ctx context.Context, walletID string) (types.Signer, error)
}

// StaticKeyResolver serves keys loaded from configuration. It is meant for
// development and tests.
type StaticKeyResolver struct {
	keys map[string]*ecdsa.PrivateKey
}

var _ KeyResolver = &StaticKeyResolver{}

func NewStaticKeyResolver(hexKeys map[string]string) (*StaticKeyResolver, error) {
	keys := make(map[string]*ecdsa.PrivateKey, len(hexKeys))
	for walletID, hexKey := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("fail to parse key for wallet %s, err: %w", walletID, err)
		}
		keys[walletID] = key
	}
	return &StaticKeyResolver{keys: keys}, nil
}

func (r *StaticKeyResolver) ResolveSigner(ctx context.Context, walletID string) (types.Signer, error) {
	key, ok := r.keys[walletID]
	if !ok {
		return types.Signer{}, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "wallet %s not found", walletID)
	}
	return types.Signer{WalletID: walletID, Key: key}, nil
}
