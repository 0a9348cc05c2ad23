package market

import (
	"fmt"
	"strings"
)

// Instrument 唯一标识一个合约，由交易所与合约代码组合而成。
type Instrument struct {
	Symbol   string
	Exchange string
}

// ParseInstrument 解析 "symbol.EXCHANGE" 格式的合约标识。
func ParseInstrument(s string) (Instrument, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return Instrument{}, fmt.Errorf("market: 非法合约标识 %q, 需要 symbol.EXCHANGE 格式", s)
	}
	return Instrument{
		Symbol:   s[:idx],
		Exchange: s[idx+1:],
	}, nil
}

// String 返回 "symbol.EXCHANGE" 格式的合约标识。
func (i Instrument) String() string {
	return i.Symbol + "." + i.Exchange
}

// IsZero 判断是否为空标识。
func (i Instrument) IsZero() bool {
	return i.Symbol == "" && i.Exchange == ""
}
