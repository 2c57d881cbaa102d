package oracle

import "github.com/ethereum/go-ethereum/common"

// RouterABI covers the read-only surface of the shared price router.
const RouterABI = `[{"inputs":[],"name":"getBNBSpotPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"tokenA","type":"address"},{"internalType":"address","name":"tokenB","type":"address"}],"name":"getPair","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"adr","type":"address"}],"name":"getTokenInfo","outputs":[{"internalType":"string","name":"name","type":"string"},{"internalType":"string","name":"symbol","type":"string"},{"internalType":"uint8","name":"decimals","type":"uint8"},{"internalType":"uint256","name":"totalSupply","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"}],"name":"getTokenTokenPrice","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"PRICE_DECIMALS","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	DefaultRouterAddress  = common.HexToAddress("0x0Bd91f45FcA6428680C02a79A2496D6f97BDF24a")
	DefaultReferenceAsset = common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c") // WBNB
)

// Router is the oracle contract shared by every v3 bot. All prices it returns
// carry 18 decimals.
type Router struct {
	Address   common.Address
	Reference common.Address
}

func DefaultRouter() Router {
	return Router{Address: DefaultRouterAddress, Reference: DefaultReferenceAsset}
}
