// README: Pricing service computes fare estimates from the configured rate.
package pricing

import (
	"context"
	"errors"

	"sharetaxi/internal/config"
	"sharetaxi/internal/types"
)

var ErrBadQuote = errors.New("bad fare quote")

type Service struct {
	rate Rate
}

func NewService(cfg config.PricingConfig) *Service {
	return &Service{rate: Rate{BaseFare: cfg.BaseFare, PerStop: cfg.PerStop, Currency: cfg.Currency}}
}

func (s *Service) Estimate(_ context.Context, q Quote) (types.Money, error) {
	if q.Stops < 0 {
		return types.Money{}, ErrBadQuote
	}
	amount := s.rate.BaseFare
	switch q.RequestType {
	case "ride":
		amount += s.rate.PerStop * int64(q.Stops)
	case "pickup":
	default:
		return types.Money{}, ErrBadQuote
	}
	return types.Money{Amount: amount, Currency: s.rate.Currency}, nil
}
