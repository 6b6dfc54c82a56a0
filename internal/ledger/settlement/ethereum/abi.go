package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// custodyABI 托管合约的管理接口，原生币用零地址表示
const custodyABI = `[
{"name":"adminDeposit","type":"function","stateMutability":"payable","inputs":[{"name":"user","type":"address"},{"name":"tokens","type":"address[]"},{"name":"amounts","type":"uint256[]"}],"outputs":[]},
{"name":"adminDepositNative","type":"function","stateMutability":"payable","inputs":[{"name":"user","type":"address"}],"outputs":[]},
{"name":"adminWithdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"user","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"name":"adminWithdrawNative","type":"function","stateMutability":"nonpayable","inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"name":"adminTransfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
{"name":"addSupportedToken","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"}],"outputs":[]},
{"name":"admin","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

const erc20MetaABI = `[
{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	custody   = mustParse(custodyABI)
	erc20Meta = mustParse(erc20MetaABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
