package mongodb

const (
	TokensCollection = "ledger_tokens" // One encrypted token record per tenant
)
