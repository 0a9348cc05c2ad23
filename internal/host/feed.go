// Package host 提供交易宿主的具体接入：内存模拟盘与 ccxt 实盘。
// 引擎只依赖 market 包中的接口，回报事件统一经由 Feed 串行送回。
package host

import "rebalance-trader/internal/market"

// Event 为宿主推送的一条回报事件，三个字段只会有一个非空。
type Event struct {
	Order    *market.OrderData
	Trade    *market.TradeData
	Position *market.PositionData
}

// Feed 暴露宿主的回报事件流，由应用层的事件循环统一消费。
type Feed interface {
	Events() <-chan Event
}
