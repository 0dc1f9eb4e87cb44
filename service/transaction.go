package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	gcommon "github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/contexthelper"
	"github.com/vultisig/txengine/internal/abiargs"
	"github.com/vultisig/txengine/internal/gas"
	"github.com/vultisig/txengine/internal/metatx"
	"github.com/vultisig/txengine/internal/nonce"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/types"
	"github.com/vultisig/txengine/storage"
)

const (
	DefaultConfirmationTimeout = 2 * time.Minute
	persistTimeout             = 5 * time.Second
	sendTimeout                = 30 * time.Second
)

// TransactionService executes contract calls and deployments end to end:
// provider, gas, nonce lease, signing, submission, inclusion and persistence.
type TransactionService struct {
	providers *provider.Registry
	oracle    *gas.Oracle
	nonces    *nonce.Coordinator
	builder   *metatx.Builder
	db        storage.DatabaseStorage
	keys      KeyResolver
	sdClient  statsd.ClientInterface
	logger    *logrus.Logger

	confirmationTimeout time.Duration
}

func NewTransactionService(
	providers *provider.Registry,
	oracle *gas.Oracle,
	nonces *nonce.Coordinator,
	builder *metatx.Builder,
	db storage.DatabaseStorage,
	keys KeyResolver,
	sdClient statsd.ClientInterface,
	confirmationTimeout time.Duration,
	logger *logrus.Logger,
) (*TransactionService, error) {
	if providers == nil || oracle == nil || nonces == nil || builder == nil {
		return nil, fmt.Errorf("providers, oracle, nonces and builder are required")
	}
	if db == nil {
		return nil, fmt.Errorf("database storage is nil")
	}
	if sdClient == nil {
		sdClient = &statsd.NoOpClient{}
	}
	if confirmationTimeout <= 0 {
		confirmationTimeout = DefaultConfirmationTimeout
	}
	return &TransactionService{
		providers:           providers,
		oracle:              oracle,
		nonces:              nonces,
		builder:             builder,
		db:                  db,
		keys:                keys,
		sdClient:            sdClient,
		logger:              logger,
		confirmationTimeout: confirmationTimeout,
	}, nil
}

func (s *TransactionService) incCounter(name string, tags []string) {
	if err := s.sdClient.Count(name, 1, tags, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
}

func (s *TransactionService) measureTime(name string, start time.Time, tags []string) {
	if err := s.sdClient.Timing(name, time.Since(start), tags, 1); err != nil {
		s.logger.Errorf("fail to measure time metric, err: %v", err)
	}
}

// ExecuteTransaction calls req.Function on the target contract, relayed
// through the chain's trusted forwarder when allowed and possible. When the
// transaction lands but reverts (or is not mined in time) the persisted
// record is returned together with the error.
func (s *TransactionService) ExecuteTransaction(ctx context.Context, req types.ExecuteRequest) (*types.TransactionRecord, error) {
	start := time.Now()
	contract, chainName, err := s.resolveContract(ctx, req)
	if err != nil {
		return nil, err
	}
	tags := []string{"chain:" + strings.ToUpper(chainName), "function:" + req.Function}
	defer s.measureTime("engine.transaction.latency", start, tags)
	s.incCounter("engine.transaction", tags)

	record, err := s.executeTransaction(ctx, req, contract, chainName)
	if err != nil {
		s.incCounter("engine.transaction.error", append(tags, "code:"+types.ErrorCode(err)))
	}
	return record, err
}

func (s *TransactionService) executeTransaction(ctx context.Context, req types.ExecuteRequest, contract *types.Contract, chainName string) (*types.TransactionRecord, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	if req.Signer.Key == nil {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "signer key is required")
	}
	p, err := s.providers.GetProvider(ctx, chainName, req.RPCOverrides)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	args, err := abiargs.ConvertMethod(contract.ABI, req.Function, req.Args)
	if err != nil {
		return nil, err
	}

	relayer, err := s.relayPlan(ctx, p, contract, req)
	if err != nil {
		return nil, err
	}
	if relayer != nil {
		return s.executeRelayed(ctx, p, contract, req, args, *relayer)
	}
	return s.executeDirect(ctx, p, contract, req, args)
}

func (s *TransactionService) resolveContract(ctx context.Context, req types.ExecuteRequest) (*types.Contract, string, error) {
	if req.ContractID == "" {
		if req.ChainName == "" {
			return nil, "", types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "chain name is required")
		}
		contract, err := types.ParseContract(req.ContractAddress, req.ABI)
		if err != nil {
			return nil, "", err
		}
		return contract, req.ChainName, nil
	}

	id, err := uuid.Parse(req.ContractID)
	if err != nil {
		return nil, "", types.NewTransactionError(types.CodeInvalidAddressOrArgs, err, "invalid contract id %q", req.ContractID)
	}
	record, err := s.db.GetContract(ctx, id)
	if err != nil {
		return nil, "", err
	}
	contract, err := record.Contract()
	if err != nil {
		return nil, "", err
	}
	contract.Gasless = record.Gasless
	if gcommon.IsHexAddress(record.Forwarder) {
		fwd := gcommon.HexToAddress(record.Forwarder)
		contract.Forwarder = &fwd
	}
	return contract, record.ChainName, nil
}

// relayPlan returns the relayer signer when the call should be relayed, or
// nil for direct execution. Explicit gasless overrides turn an impossible
// relay into RelayUnsupported instead of a direct call.
func (s *TransactionService) relayPlan(ctx context.Context, p *provider.Provider, contract *types.Contract, req types.ExecuteRequest) (*types.Signer, error) {
	explicit := !req.GaslessOverrides.IsEmpty()
	if !req.AllowGasless && !explicit {
		return nil, nil
	}
	logger := s.logger.WithFields(logrus.Fields{
		"chain":    p.Chain.Name,
		"contract": contract.Address.Hex(),
	})
	unsupported := func(reason string) (*types.Signer, error) {
		if explicit {
			return nil, types.NewTransactionError(types.CodeRelayUnsupported, nil,
				"gasless execution is not possible on %s: %s", p.Chain.Name, reason)
		}
		logger.WithField("reason", reason).Info("relay unavailable, executing directly")
		return nil, nil
	}

	forwarder, err := metatx.Forwarder(p, contract)
	if err != nil {
		return unsupported("no trusted forwarder")
	}
	if p.Chain.RelayerWallet == "" || s.keys == nil {
		return unsupported("no relayer wallet")
	}
	relayer, err := s.keys.ResolveSigner(ctx, p.Chain.RelayerWallet)
	if err != nil {
		logger.WithError(err).Warn("fail to resolve relayer wallet")
		return unsupported("relayer wallet unavailable")
	}
	if !contract.Gasless {
		trusted, err := metatx.IsTrustedForwarder(ctx, p, contract.Address, forwarder)
		if err != nil {
			logger.WithError(err).Warn("fail to query trusted forwarder")
		}
		if !trusted {
			return unsupported("contract does not trust the forwarder")
		}
	}
	return &relayer, nil
}

func (s *TransactionService) executeDirect(ctx context.Context, p *provider.Provider, contract *types.Contract, req types.ExecuteRequest, args []interface{}) (*types.TransactionRecord, error) {
	from := req.Signer.Address()
	data, err := contract.Pack(req.Function, args...)
	if err != nil {
		return nil, err
	}
	gasPrice, err := s.oracle.GetPrice(ctx, p)
	if err != nil {
		return nil, err
	}
	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = s.oracle.EstimateGasForCall(ctx, p, contract, from, req.Function, args, types.CallOverrides{
			Value:    req.Value,
			GasPrice: gasPrice,
		})
		if err != nil {
			return nil, err
		}
	}

	to := contract.Address
	tx, err := s.submit(ctx, p, req.Signer, func(n uint64) *gtypes.Transaction {
		return gtypes.NewTx(&gtypes.LegacyTx{
			Nonce:    n,
			To:       &to,
			Value:    req.Value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})
	})
	if err != nil {
		return nil, err
	}

	record := s.newRecord(p, req, tx, from, contract.Address, false)
	receipt, waitErr := s.waitMined(ctx, p, tx)
	return s.finalize(ctx, record, receipt, waitErr)
}

func (s *TransactionService) executeRelayed(ctx context.Context, p *provider.Provider, contract *types.Contract, req types.ExecuteRequest, args []interface{}, relayer types.Signer) (*types.TransactionRecord, error) {
	signed, err := s.builder.BuildForwardRequest(ctx, metatx.BuildRequest{
		Provider:  p,
		Contract:  contract,
		Signer:    req.Signer,
		Method:    req.Function,
		Args:      args,
		Overrides: relayOverrides(req),
	})
	if err != nil {
		return nil, err
	}
	data, err := metatx.ExecuteCalldata(signed)
	if err != nil {
		return nil, err
	}
	gasPrice, err := s.oracle.GetPrice(ctx, p)
	if err != nil {
		return nil, err
	}
	forwarder := signed.Forwarder
	value := signed.Request.Value
	gasLimit, err := s.oracle.EstimateGas(ctx, p, ethereum.CallMsg{
		From:  relayer.Address(),
		To:    &forwarder,
		Value: value,
		Data:  data,
	}, gasPrice)
	if err != nil {
		return nil, err
	}

	tx, err := s.submit(ctx, p, relayer, func(n uint64) *gtypes.Transaction {
		return gtypes.NewTx(&gtypes.LegacyTx{
			Nonce:    n,
			To:       &forwarder,
			Value:    value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"chain":     p.Chain.Name,
		"from":      signed.Request.From.Hex(),
		"relayer":   relayer.Address().Hex(),
		"forwarder": forwarder.Hex(),
		"tx_hash":   tx.Hash().Hex(),
	}).Info("relayed transaction submitted")

	record := s.newRecord(p, req, tx, signed.Request.From, contract.Address, true)
	receipt, waitErr := s.waitMined(ctx, p, tx)
	return s.finalize(ctx, record, receipt, waitErr)
}

// relayOverrides folds the request's value and gas limit into the forward
// request unless the caller already overrode them.
func relayOverrides(req types.ExecuteRequest) *types.GaslessOverrides {
	overrides := types.GaslessOverrides{}
	if req.GaslessOverrides != nil {
		overrides = *req.GaslessOverrides
	}
	fr := types.ForwardRequest{}
	if overrides.ForwardRequest != nil {
		fr = *overrides.ForwardRequest
	}
	if fr.Value == nil && req.Value != nil {
		fr.Value = req.Value
	}
	if fr.Gas == nil && req.GasLimit > 0 {
		fr.Gas = new(big.Int).SetUint64(req.GasLimit)
	}
	overrides.ForwardRequest = &fr
	return &overrides
}

// submit signs and sends the transaction built for the leased nonce. Send
// failures are normalized inside the lease so a rejected nonce is rolled
// back. The broadcast runs detached from ctx: once a nonce is leased the
// send completes even if the caller goes away.
func (s *TransactionService) submit(ctx context.Context, p *provider.Provider, signer types.Signer, build func(nonce uint64) *gtypes.Transaction) (*gtypes.Transaction, error) {
	chainID, err := s.providers.NetworkDescriptor(ctx, p)
	if err != nil {
		return nil, err
	}
	if chainID.Cmp(p.Chain.BigID()) != 0 {
		return nil, types.NewTransactionError(types.CodeRPCError, nil,
			"rpc endpoint reports chain id %s, expected %d for %s", chainID, p.Chain.ID, p.Chain.Name)
	}
	txSigner := gtypes.LatestSignerForChainID(chainID)

	var sent *gtypes.Transaction
	err = s.nonces.WithLeasedNonce(ctx, p, signer.Address(), false, func(ctx context.Context, n uint64) error {
		tx, err := gtypes.SignTx(build(n), txSigner, signer.Key)
		if err != nil {
			return fmt.Errorf("fail to sign transaction, err: %w", err)
		}
		sendCtx, cancel := contexthelper.Detached(ctx, sendTimeout)
		defer cancel()
		if err := p.Client().SendTransaction(sendCtx, tx); err != nil {
			return provider.NormalizeError(err, p.Chain.Name)
		}
		sent = tx
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"chain":   p.Chain.Name,
		"from":    signer.Address().Hex(),
		"nonce":   sent.Nonce(),
		"tx_hash": sent.Hash().Hex(),
	}).Info("transaction submitted")
	return sent, nil
}

func (s *TransactionService) waitMined(ctx context.Context, p *provider.Provider, tx *gtypes.Transaction) (*gtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmationTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(ctx, p.Client(), tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, types.NewTransactionError(types.CodeTxTimeout, err,
				"transaction %s was not mined within %s", tx.Hash().Hex(), s.confirmationTimeout)
		}
		return nil, provider.NormalizeError(err, p.Chain.Name)
	}
	return receipt, nil
}

func (s *TransactionService) newRecord(p *provider.Provider, req types.ExecuteRequest, tx *gtypes.Transaction, wallet gcommon.Address, contract gcommon.Address, gasless bool) types.TransactionRecord {
	return types.TransactionRecord{
		TxHash:          tx.Hash().Hex(),
		Gasless:         gasless,
		ContractAddress: contract.Hex(),
		FunctionName:    req.Function,
		Args:            marshalArgs(req.Args),
		WalletID:        req.Signer.WalletID,
		WalletAddress:   wallet.Hex(),
		ChainName:       p.Chain.Name,
		ChainID:         p.Chain.ID,
		Status:          types.StatusPending,
	}
}

func marshalArgs(args []interface{}) json.RawMessage {
	if args == nil {
		args = []interface{}{}
	}
	buf, err := json.Marshal(args)
	if err != nil {
		return json.RawMessage("[]")
	}
	return buf
}

// finalize applies the receipt (or the wait failure) to record, persists it
// and returns the outcome error, if any, alongside the stored record.
func (s *TransactionService) finalize(ctx context.Context, record types.TransactionRecord, receipt *gtypes.Receipt, waitErr error) (*types.TransactionRecord, error) {
	var outcome error
	switch {
	case waitErr != nil:
		if errors.Is(waitErr, types.ErrTxTimeout) {
			record.Status = types.StatusTimeout
		}
		outcome = waitErr
	case receipt.Status == gtypes.ReceiptStatusFailed:
		record.Status = types.StatusReverted
		outcome = types.NewTransactionError(types.CodeExecutionReverted, nil,
			"transaction %s reverted in block %s", record.TxHash, receipt.BlockNumber)
	default:
		record.Status = types.StatusMined
	}
	if receipt != nil && receipt.BlockNumber != nil {
		bn := receipt.BlockNumber.Uint64()
		record.BlockNumber = &bn
	}
	if outcome != nil {
		msg := outcome.Error()
		record.ErrorMessage = &msg
	}

	saved, err := s.persistTransaction(ctx, record)
	if err != nil {
		if outcome != nil {
			return &record, outcome
		}
		return &record, err
	}
	s.logger.WithFields(logrus.Fields{
		"chain":   record.ChainName,
		"tx_hash": record.TxHash,
		"status":  record.Status,
	}).Info("transaction finalized")
	return saved, outcome
}

// persistTransaction outlives the request context, the transaction is on
// chain whether or not the caller is still waiting.
func (s *TransactionService) persistTransaction(ctx context.Context, record types.TransactionRecord) (*types.TransactionRecord, error) {
	ctx, cancel := contexthelper.Detached(ctx, persistTimeout)
	defer cancel()
	saved, err := s.db.CreateTransaction(ctx, record)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"tx_hash": record.TxHash,
			"chain":   record.ChainName,
		}).WithError(err).Error("fail to persist transaction")
		return nil, fmt.Errorf("fail to persist transaction %s, err: %w", record.TxHash, err)
	}
	return saved, nil
}

// BuildForwardRequest signs a forward request for req without submitting it.
func (s *TransactionService) BuildForwardRequest(ctx context.Context, req types.ExecuteRequest) (*types.SignedForwardRequest, error) {
	contract, chainName, err := s.resolveContract(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Signer.Key == nil {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "signer key is required")
	}
	p, err := s.providers.GetProvider(ctx, chainName, req.RPCOverrides)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	args, err := abiargs.ConvertMethod(contract.ABI, req.Function, req.Args)
	if err != nil {
		return nil, err
	}
	return s.builder.BuildForwardRequest(ctx, metatx.BuildRequest{
		Provider:  p,
		Contract:  contract,
		Signer:    req.Signer,
		Method:    req.Function,
		Args:      args,
		Overrides: relayOverrides(req),
	})
}

// GetChainGasPrice returns the canonical chain name and its adjusted gas
// price.
func (s *TransactionService) GetChainGasPrice(ctx context.Context, chainName string, rpcOverrides []string) (string, *big.Int, error) {
	p, err := s.providers.GetProvider(ctx, chainName, rpcOverrides)
	if err != nil {
		return "", nil, err
	}
	defer p.Close()
	price, err := s.oracle.GetPrice(ctx, p)
	if err != nil {
		return "", nil, err
	}
	return p.Chain.Name, price, nil
}

func (s *TransactionService) NormalizeError(err error, chainHint string) error {
	return provider.NormalizeError(err, chainHint)
}

func (s *TransactionService) ValidateRPCURL(ctx context.Context, chainName string, url string) bool {
	return s.providers.IsValidRPCURL(ctx, chainName, url)
}

func (s *TransactionService) ListTransactions(ctx context.Context, walletID string, take int, skip int) ([]types.TransactionRecord, error) {
	if take <= 0 || take > 100 {
		take = 100
	}
	if skip < 0 {
		skip = 0
	}
	return s.db.GetTransactions(ctx, walletID, take, skip)
}

// ResolveSigner looks up a wallet key through the configured KeyResolver.
func (s *TransactionService) ResolveSigner(ctx context.Context, walletID string) (types.Signer, error) {
	if s.keys == nil {
		return types.Signer{}, fmt.Errorf("no key resolver configured")
	}
	return s.keys.ResolveSigner(ctx, walletID)
}
