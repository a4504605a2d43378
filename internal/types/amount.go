package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/shopspring/decimal"
)

var (
	ErrAmountNotString = errors.New("amount must be a string of minimal units")
	ErrAmountInvalid   = errors.New("amount must be a positive integer in minimal units")
)

// Amount 表示最小单位的代币数量。对外边界统一以字符串传递，避免精度丢失；
// JSON 数字（无论整数还是浮点）一律拒绝，不猜测其是否已经按 decimals 放大。
type Amount uint64

// ParseAmount 严格解析十进制最小单位字符串：仅允许数字，不允许符号、空白、小数点与指数
func ParseAmount(s string) (uint64, error) {
	if s == "" || len(s) > 20 {
		return 0, fmt.Errorf("%w: %q", ErrAmountInvalid, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrAmountInvalid, s)
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrAmountInvalid, s)
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: %q", ErrAmountInvalid, s)
	}
	return v, nil
}

func (a Amount) Uint64() uint64 {
	return uint64(a)
}

func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || data[0] != '"' {
		return ErrAmountNotString
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return ErrAmountNotString
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = Amount(v)
	return nil
}

// FormatUiAmount 将最小单位换算为展示用的十进制字符串，例如 (1500000, 6) -> "1.5"
func FormatUiAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}
