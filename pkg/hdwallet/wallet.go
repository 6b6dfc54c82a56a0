// 结算签名账户派生
package hdwallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// CoinTypeETH BIP44 以太坊 coin type
const CoinTypeETH uint32 = 60

type HDWallet struct {
	// 主私钥
	masterKey *hdkeychain.ExtendedKey
}

// New 由助记词生成根私钥；助记词必须通过 bip39 校验
func New(mnemonic string) (*HDWallet, error) {
	if mnemonic == "" {
		return nil, errors.New("mnemonic cannot be empty")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	// chaincfg 只影响扩展私钥序列化的版本号，派生结果与网络无关
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	return &HDWallet{masterKey: masterKey}, nil
}

// DeriveETH 按 m/44'/60'/0'/0/index 派生以太坊账户
// 返回 checksum 地址和不带 0x 的私钥 hex（只交给结算适配器，不要落日志）
func (w *HDWallet) DeriveETH(index uint32) (string, string, error) {
	path := []uint32{
		44 + hdkeychain.HardenedKeyStart,          // Purpose
		CoinTypeETH + hdkeychain.HardenedKeyStart, // CoinType
		0 + hdkeychain.HardenedKeyStart,           // Account
		0,                                         // external chain
		index,
	}
	key := w.masterKey
	var err error
	for _, idx := range path {
		key, err = key.Derive(idx)
		if err != nil {
			return "", "", fmt.Errorf("derive %d: %w", idx, err)
		}
	}
	privKey, err := key.ECPrivKey()
	if err != nil {
		return "", "", err
	}
	ethKey := privKey.ToECDSA()
	address := crypto.PubkeyToAddress(ethKey.PublicKey).Hex()
	return address, fmt.Sprintf("%x", crypto.FromECDSA(ethKey)), nil
}

// SignerKey 便捷函数：助记词 + 下标 -> 私钥 hex
func SignerKey(mnemonic string, index uint32) (string, error) {
	w, err := New(mnemonic)
	if err != nil {
		return "", err
	}
	_, key, err := w.DeriveETH(index)
	return key, err
}
