package ledger

type CreateAccountRequest struct {
	InitialCredit int64 `json:"initial_credit" validate:"gte=0"`
}

type AddCreditRequest struct {
	Credit int64 `json:"credit" validate:"required,gt=0"`
}

type BuyChargeRequest struct {
	Phone  int64 `json:"phone" validate:"required,gt=0"`
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type ListAccountsRequest struct {
	Limit  int `json:"limit" validate:"gte=0,lte=1000"`
	Offset int `json:"offset" validate:"gte=0"`
}
