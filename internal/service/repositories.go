package service

import "storefront-ledger/internal/core/ports"

// Repositories groups the persistence ports shared by the services.
type Repositories struct {
	Wallets      ports.WalletRepository
	Entries      ports.WalletTransactionRepository
	Topups       ports.TopupRequestRepository
	Products     ports.ProductRepository
	Orders       ports.OrderRepository
	Fulfillments ports.FulfillmentRepository
	Settlements  ports.SettlementRepository
	Users        ports.UserRepository
}

func (r Repositories) orderStatus() *orderStatus {
	return &orderStatus{orderRepo: r.Orders, fulfillmentRepo: r.Fulfillments, entryRepo: r.Entries}
}
