package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custodex.com/internal/ledger/domain"
	"custodex.com/pkg/logger"
	"custodex.com/pkg/xerr"
)

// Backend ethclient.Client 用到的子集，测试里换成 fake
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Config struct {
	RPCURL         string
	Contract       string
	SignerKey      string // hex，不带 0x
	Confirmations  int64
	NativeSymbol   string
	NativeDecimals int32
}

// Adapter 通过托管合约的 admin 接口结算
// handle 就是交易哈希
type Adapter struct {
	backend  Backend
	chainID  *big.Int
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	confirms uint64
	endpoint string
	native   domain.AssetInfo

	sendMu sync.Mutex // nonce 申请 + 广播串行，避免并发拿到同一个 nonce
	infos  sync.Map   // asset -> domain.AssetInfo
}

var (
	_ domain.SettlementAdapter = (*Adapter)(nil)
	_ domain.AssetDescriber    = (*Adapter)(nil)
	_ domain.IdentityReporter  = (*Adapter)(nil)
)

func Dial(ctx context.Context, cfg Config) (*Adapter, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	return New(ctx, client, cfg)
}

func New(ctx context.Context, backend Backend, cfg Config) (*Adapter, error) {
	if !domain.ValidAddress(cfg.Contract) {
		return nil, fmt.Errorf("invalid custody contract address %q", cfg.Contract)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	// 获取 ChainID (防止重放攻击)
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	confirms := cfg.Confirmations
	if confirms <= 0 {
		confirms = 1
	}
	decimals := cfg.NativeDecimals
	if decimals <= 0 {
		decimals = 18
	}
	return &Adapter{
		backend:  backend,
		chainID:  chainID,
		contract: common.HexToAddress(cfg.Contract),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		confirms: uint64(confirms),
		endpoint: cfg.RPCURL,
		native:   domain.AssetInfo{Asset: domain.NativeAsset, Symbol: cfg.NativeSymbol, Decimals: decimals},
	}, nil
}

// Signer 发送交易用的地址
func (a *Adapter) Signer() string { return domain.NormalizeOwner(a.from.Hex()) }

func (a *Adapter) Identity() domain.LedgerIdentity {
	return domain.LedgerIdentity{
		Kind:     "ethereum",
		ChainID:  a.chainID.String(),
		Contract: domain.NormalizeOwner(a.contract.Hex()),
		Endpoint: a.endpoint,
	}
}

func (a *Adapter) AdminIdentity(ctx context.Context) (string, error) {
	data, err := custody.Pack("admin")
	if err != nil {
		return "", err
	}
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &a.contract, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("call admin(): %w", err)
	}
	vals, err := custody.Unpack("admin", out)
	if err != nil || len(vals) != 1 {
		return "", fmt.Errorf("unpack admin(): %v", err)
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return "", errors.New("admin(): unexpected return type")
	}
	return domain.NormalizeOwner(addr.Hex()), nil
}

func (a *Adapter) Describe(ctx context.Context, asset string) (domain.AssetInfo, error) {
	asset = domain.NormalizeAsset(asset)
	if asset == domain.NativeAsset {
		return a.native, nil
	}
	if v, ok := a.infos.Load(asset); ok {
		return v.(domain.AssetInfo), nil
	}
	token := common.HexToAddress(asset)

	decOut, err := a.call(ctx, token, "decimals")
	if err != nil {
		return domain.AssetInfo{}, err
	}
	symOut, err := a.call(ctx, token, "symbol")
	if err != nil {
		return domain.AssetInfo{}, err
	}
	dec, ok := decOut.(uint8)
	if !ok {
		return domain.AssetInfo{}, errors.New("decimals(): unexpected return type")
	}
	sym, _ := symOut.(string)

	info := domain.AssetInfo{Asset: asset, Symbol: sym, Decimals: int32(dec)}
	a.infos.Store(asset, info)
	return info, nil
}

func (a *Adapter) call(ctx context.Context, token common.Address, method string) (any, error) {
	data, err := erc20Meta.Pack(method)
	if err != nil {
		return nil, err
	}
	out, err := a.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s(): %w", method, err)
	}
	vals, err := erc20Meta.Unpack(method, out)
	if err != nil || len(vals) != 1 {
		return nil, fmt.Errorf("unpack %s(): %v", method, err)
	}
	return vals[0], nil
}

func (a *Adapter) Submit(ctx context.Context, op domain.Operation) (string, error) {
	data, value, err := a.encode(ctx, op)
	if err != nil {
		return "", err
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	nonce, err := a.backend.PendingNonceAt(ctx, a.from)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	// EIP-1559: MaxFeePerGas = 2 * BaseFee + Tip
	gasTipCap, err := a.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas tip: %w", err)
	}
	head, err := a.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(0)
	}
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), gasTipCap)

	gas, err := a.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  a.from,
		To:    &a.contract,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas / 5

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   a.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       gas,
		To:        &a.contract,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(a.chainID), a.key)
	if err != nil {
		return "", fmt.Errorf("sign failed: %w", err)
	}
	if err := a.backend.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast failed: %w", err)
	}

	logger.Info(ctx, "settlement tx broadcast",
		zap.String("op", string(op.Kind)),
		zap.Uint64("nonce", nonce),
		zap.String("value", weiToDecimal(value, a.native.Decimals).String()),
		zap.String("hash", signed.Hash().Hex()))
	return signed.Hash().Hex(), nil
}

// encode 把操作编码成合约调用，返回 calldata 和随交易附带的原生币
func (a *Adapter) encode(ctx context.Context, op domain.Operation) ([]byte, *big.Int, error) {
	if len(op.Assets) != len(op.Amounts) {
		return nil, nil, xerr.New(xerr.ValidationError, "assets and amounts length mismatch")
	}
	owner := common.HexToAddress(op.Owner)
	value := big.NewInt(0)

	switch op.Kind {
	case domain.OpDeposit:
		tokens := make([]common.Address, len(op.Assets))
		amounts := make([]*big.Int, len(op.Assets))
		for i, asset := range op.Assets {
			wei, err := a.toUnits(ctx, asset, op.Amounts[i])
			if err != nil {
				return nil, nil, err
			}
			tokens[i] = common.HexToAddress(asset)
			amounts[i] = wei
			if domain.IsNative(asset) {
				value.Add(value, wei)
			}
		}
		data, err := custody.Pack("adminDeposit", owner, tokens, amounts)
		return data, value, err

	case domain.OpDepositNative:
		wei, err := a.single(ctx, op)
		if err != nil {
			return nil, nil, err
		}
		data, err := custody.Pack("adminDepositNative", owner)
		return data, wei, err

	case domain.OpWithdraw:
		wei, err := a.single(ctx, op)
		if err != nil {
			return nil, nil, err
		}
		data, err := custody.Pack("adminWithdraw", common.HexToAddress(op.Assets[0]), owner, wei)
		return data, value, err

	case domain.OpWithdrawNative:
		wei, err := a.single(ctx, op)
		if err != nil {
			return nil, nil, err
		}
		data, err := custody.Pack("adminWithdrawNative", owner, wei)
		return data, value, err

	case domain.OpTransfer:
		wei, err := a.single(ctx, op)
		if err != nil {
			return nil, nil, err
		}
		data, err := custody.Pack("adminTransfer",
			common.HexToAddress(op.Assets[0]), owner, common.HexToAddress(op.Counterparty), wei)
		return data, value, err

	case domain.OpAddAsset:
		if len(op.Assets) != 1 {
			return nil, nil, xerr.New(xerr.ValidationError, "add-asset takes exactly one asset")
		}
		data, err := custody.Pack("addSupportedToken", common.HexToAddress(op.Assets[0]))
		return data, value, err
	}
	return nil, nil, xerr.New(xerr.ValidationError, "unsupported operation "+string(op.Kind))
}

func (a *Adapter) single(ctx context.Context, op domain.Operation) (*big.Int, error) {
	if len(op.Assets) != 1 {
		return nil, xerr.New(xerr.ValidationError, string(op.Kind)+" takes exactly one asset")
	}
	return a.toUnits(ctx, op.Assets[0], op.Amounts[0])
}

// toUnits 十进制金额 -> 链上最小单位，超出精度直接拒绝
func (a *Adapter) toUnits(ctx context.Context, asset string, amount decimal.Decimal) (*big.Int, error) {
	info, err := a.Describe(ctx, asset)
	if err != nil {
		return nil, err
	}
	if domain.ExceedsScale(amount, info.Decimals) {
		ce := &xerr.CodeError{Code: xerr.ValidationError, Msg: "amount exceeds asset precision"}
		return nil, ce.WithField("asset", asset)
	}
	return amount.Shift(info.Decimals).BigInt(), nil
}

func (a *Adapter) Status(ctx context.Context, handle string) (domain.StatusReport, error) {
	receipt, err := a.backend.TransactionReceipt(ctx, common.HexToHash(handle))
	if errors.Is(err, ethereum.NotFound) {
		// 还在 mempool 或者已经丢了；没有 Block，reconciler 超过 pending_timeout 判失败
		return domain.StatusReport{Status: domain.StatusPending}, nil
	}
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("receipt %s: %w", handle, err)
	}

	block := &domain.BlockInfo{Hash: receipt.BlockHash.Hex()}
	if receipt.BlockNumber != nil {
		block.Number = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return domain.StatusReport{Status: domain.StatusFailed, Block: block}, nil
	}

	latest, err := a.backend.BlockNumber(ctx)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("block number: %w", err)
	}
	if latest+1 < block.Number+a.confirms {
		return domain.StatusReport{Status: domain.StatusPending, Block: block}, nil
	}
	return domain.StatusReport{Status: domain.StatusSuccess, Block: block}, nil
}

func weiToDecimal(wei *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(wei, 0).Shift(-decimals)
}
