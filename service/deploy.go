package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	gcommon "github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/contexthelper"
	"github.com/vultisig/txengine/internal/abiargs"
	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/types"
)

type DeployResult struct {
	Transaction *types.TransactionRecord `json:"transaction"`
	Contract    *types.ContractRecord    `json:"contract,omitempty"`
}

// DeployContract creates a contract from bytecode plus packed constructor
// arguments and records both the deployment transaction and the contract.
func (s *TransactionService) DeployContract(ctx context.Context, req types.DeployRequest) (*DeployResult, error) {
	start := time.Now()
	tags := []string{"chain:" + strings.ToUpper(req.ChainName)}
	defer s.measureTime("engine.deploy.latency", start, tags)
	s.incCounter("engine.deploy", tags)

	result, err := s.deployContract(ctx, req)
	if err != nil {
		s.incCounter("engine.deploy.error", append(tags, "code:"+types.ErrorCode(err)))
	}
	return result, err
}

func (s *TransactionService) deployContract(ctx context.Context, req types.DeployRequest) (*DeployResult, error) {
	if err := contexthelper.CheckCancellation(ctx); err != nil {
		return nil, err
	}
	if req.Signer.Key == nil {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "signer key is required")
	}
	if len(req.Bytecode) == 0 {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, nil, "bytecode is required")
	}
	parsed, err := abi.JSON(strings.NewReader(req.ABI))
	if err != nil {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, err, "invalid contract abi: %v", err)
	}
	p, err := s.providers.GetProvider(ctx, req.ChainName, req.RPCOverrides)
	if err != nil {
		return nil, err
	}
	defer p.Close()
	args, err := abiargs.ConvertMethod(parsed, types.ConstructorFunction, req.Args)
	if err != nil {
		return nil, err
	}
	input, err := parsed.Pack("", args...)
	if err != nil {
		return nil, types.NewTransactionError(types.CodeInvalidAddressOrArgs, err, "fail to encode constructor arguments: %v", err)
	}
	data := append(append([]byte{}, req.Bytecode...), input...)

	from := req.Signer.Address()
	gasPrice, err := s.oracle.GetPrice(ctx, p)
	if err != nil {
		return nil, err
	}
	gasLimit, err := s.oracle.EstimateGas(ctx, p, ethereum.CallMsg{
		From:  from,
		Value: req.Value,
		Data:  data,
	}, gasPrice)
	if err != nil {
		return nil, err
	}

	tx, err := s.submit(ctx, p, req.Signer, func(n uint64) *gtypes.Transaction {
		return gtypes.NewTx(&gtypes.LegacyTx{
			Nonce:    n,
			Value:    req.Value,
			Gas:      gasLimit,
			GasPrice: gasPrice,
			Data:     data,
		})
	})
	if err != nil {
		return nil, err
	}

	record := types.TransactionRecord{
		TxHash:        tx.Hash().Hex(),
		Gasless:       req.Gasless,
		FunctionName:  types.ConstructorFunction,
		Args:          marshalArgs(req.Args),
		WalletID:      req.Signer.WalletID,
		WalletAddress: from.Hex(),
		ChainName:     p.Chain.Name,
		ChainID:       p.Chain.ID,
		Status:        types.StatusPending,
	}

	receipt, waitErr := s.waitMined(ctx, p, tx)
	var address gcommon.Address
	if waitErr == nil && receipt.Status == gtypes.ReceiptStatusSuccessful {
		address, waitErr = s.waitDeployed(ctx, p, tx)
		record.ContractAddress = address.Hex()
	}
	saved, err := s.finalize(ctx, record, receipt, waitErr)
	if err != nil {
		return &DeployResult{Transaction: saved}, err
	}

	contract := types.ContractRecord{
		ChainName: p.Chain.Name,
		Address:   address.Hex(),
		ABI:       req.ABI,
		Gasless:   req.Gasless,
	}
	if req.Gasless && p.Chain.Forwarder != nil {
		contract.Forwarder = p.Chain.Forwarder.Hex()
	}
	persistCtx, cancel := contexthelper.Detached(ctx, persistTimeout)
	defer cancel()
	savedContract, err := s.db.CreateContract(persistCtx, contract)
	if err != nil {
		return &DeployResult{Transaction: saved}, fmt.Errorf("fail to persist contract %s, err: %w", address.Hex(), err)
	}

	s.logger.WithFields(logrus.Fields{
		"chain":    p.Chain.Name,
		"address":  address.Hex(),
		"tx_hash":  saved.TxHash,
		"contract": savedContract.ID,
	}).Info("contract deployed")
	return &DeployResult{Transaction: saved, Contract: savedContract}, nil
}

func (s *TransactionService) waitDeployed(ctx context.Context, p *provider.Provider, tx *gtypes.Transaction) (gcommon.Address, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmationTimeout)
	defer cancel()
	address, err := bind.WaitDeployed(ctx, p.Client(), tx)
	if err != nil {
		return gcommon.Address{}, provider.NormalizeError(fmt.Errorf("deployment did not produce a contract: %w", err), p.Chain.Name)
	}
	return address, nil
}
