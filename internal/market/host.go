package market

// Quoter 提供行情与合约信息查询，查不到时返回 false 属于正常情况。
type Quoter interface {
	GetTick(instrument Instrument) (TickData, bool)
	GetContract(instrument Instrument) (ContractData, bool)
	Subscribe(instrument Instrument) error
}

// OrderRouter 负责委托的发送与撤销，回报通过事件异步返回。
type OrderRouter interface {
	SendOrder(req OrderRequest) (string, error)
	CancelOrder(orderID string) error
}

// Host 聚合交易宿主对引擎暴露的全部能力。
type Host interface {
	Quoter
	OrderRouter
}
