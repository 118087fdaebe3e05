package command

// Withdraw pays part of the caller's withdrawable balance out of the ledger.
type Withdraw struct {
	Header
	Amount int64 `json:"amount"`
}

func (*Withdraw) CommandType() CommandType { return CommandTypeWithdraw }
