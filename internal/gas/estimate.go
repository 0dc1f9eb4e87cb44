package gas

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	gcommon "github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/vultisig/txengine/internal/provider"
	"github.com/vultisig/txengine/internal/types"
)

// EstimateGasForCall estimates gas for method(args) on contract sent by from.
// overrides.GasPrice, when set, replaces the oracle price in the balance check.
func (o *Oracle) EstimateGasForCall(
	ctx context.Context,
	p *provider.Provider,
	contract *types.Contract,
	from gcommon.Address,
	method string,
	args []interface{},
	overrides types.CallOverrides,
) (uint64, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return 0, err
	}
	to := contract.Address
	msg := ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: overrides.Value,
		Data:  data,
	}

	gasPrice := overrides.GasPrice
	if gasPrice == nil && hasValue(msg.Value) {
		gasPrice, err = o.GetPrice(ctx, p)
		if err != nil {
			return 0, err
		}
	}
	return o.EstimateGas(ctx, p, msg, gasPrice)
}

// EstimateGas pads the node's estimate by 10%. When msg carries native value
// the sender's balance must cover value + gas*gasPrice: estimation alone does
// not fail on a balance shortfall.
func (o *Oracle) EstimateGas(ctx context.Context, p *provider.Provider, msg ethereum.CallMsg, gasPrice *big.Int) (uint64, error) {
	client := p.Client()
	estimated, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, provider.NormalizeError(err, p.Chain.Name)
	}
	padded := estimated + estimated/10

	if hasValue(msg.Value) {
		if err := o.checkBalance(ctx, p, msg.From, msg.Value, padded, gasPrice); err != nil {
			return 0, err
		}
	}
	return padded, nil
}

func (o *Oracle) checkBalance(ctx context.Context, p *provider.Provider, from gcommon.Address, value *big.Int, gasUnits uint64, gasPrice *big.Int) error {
	balance, err := p.Client().BalanceAt(ctx, from, nil)
	if err != nil {
		return provider.NormalizeError(err, p.Chain.Name)
	}
	required := new(big.Int).Set(value)
	if gasPrice != nil {
		required.Add(required, new(big.Int).Mul(new(big.Int).SetUint64(gasUnits), gasPrice))
	}
	if balance.Cmp(required) >= 0 {
		return nil
	}

	shortfall := new(big.Int).Sub(required, balance)
	o.logger.WithFields(logrus.Fields{
		"chain":     p.Chain.Name,
		"from":      from.Hex(),
		"balance":   balance.String(),
		"required":  required.String(),
		"shortfall": shortfall.String(),
	}).Info("insufficient balance for call")
	return types.NewTransactionError(types.CodeInsufficientBalance, nil,
		"insufficient balance on %s: %s holds %s wei but needs %s wei (value plus gas), short by %s wei",
		p.Chain.Name, from.Hex(), balance.String(), required.String(), shortfall.String())
}

func hasValue(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
