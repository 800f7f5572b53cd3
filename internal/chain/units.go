package chain

import (
	"fmt"
	"math/big"
	"strings"
)

// weiPerCelo is 10^18, the same scaling as ether.
var weiPerCelo = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WeiToCelo renders a wei amount as a decimal CELO string, e.g. "1.5".
// Whole amounts keep one decimal place to match explorer formatting.
func WeiToCelo(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	rat := new(big.Rat).SetFrac(wei, weiPerCelo)
	s := rat.FloatString(18)
	s = strings.TrimRight(s, "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// ParseCelo converts a decimal CELO string to wei. At most 18 fractional
// digits are allowed, finer amounts are not representable on chain.
func ParseCelo(amount string) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(amount, "-") {
		return nil, fmt.Errorf("negative amount %q", amount)
	}
	if idx := strings.IndexByte(amount, '.'); idx >= 0 && len(amount)-idx-1 > 18 {
		return nil, fmt.Errorf("amount %q has more than 18 decimal places", amount)
	}

	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", amount)
	}

	wei := new(big.Rat).Mul(rat, new(big.Rat).SetInt(weiPerCelo))
	if !wei.IsInt() {
		return nil, fmt.Errorf("amount %q is not a whole number of wei", amount)
	}
	return new(big.Int).Set(wei.Num()), nil
}
