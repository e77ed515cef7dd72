package executor

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"fundingarb/src/model"
)

// ExchangeGateway is the slice of the exchange client the live executor
// needs. Satisfied by *exchange.Client.
type ExchangeGateway interface {
	PlaceOrder(ctx context.Context, request model.OrderRequest) (*model.OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol, category string) (bool, error)
}

// LiveExecutor delegates order operations to the real exchange client.
// Exchange errors propagate unchanged.
type LiveExecutor struct {
	gateway ExchangeGateway
}

func NewLiveExecutor(gateway ExchangeGateway) *LiveExecutor {
	return &LiveExecutor{gateway: gateway}
}

func (l *LiveExecutor) PlaceOrder(ctx context.Context, request model.OrderRequest) (*model.OrderResult, error) {
	result, err := l.gateway.PlaceOrder(ctx, request)
	if err != nil {
		return nil, err
	}

	logger.WithFields(logger.Fields{
		"order_id":   result.OrderID,
		"symbol":     result.Symbol,
		"side":       result.Side,
		"quantity":   result.FilledQty.String(),
		"fill_price": result.FilledPrice.String(),
		"fee":        result.Fee.String(),
		"category":   request.Category,
	}).Info("live order filled")

	return result, nil
}

func (l *LiveExecutor) CancelOrder(ctx context.Context, orderID, symbol, category string) (bool, error) {
	return l.gateway.CancelOrder(ctx, orderID, symbol, category)
}
