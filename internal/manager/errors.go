package manager

import (
	"errors"

	"github.com/prabhuswaminathan/nifty-condor-bot/internal/broker"
	"github.com/prabhuswaminathan/nifty-condor-bot/internal/strategy"
)

func isSelectionError(err error) bool {
	var se *strategy.SelectionError
	return errors.As(err, &se)
}

func isOrderError(err error) bool {
	var oe *broker.OrderError
	return errors.As(err, &oe)
}

func isAuthError(err error) bool {
	var fe *broker.FetchError
	return errors.As(err, &fe) && fe.Kind == broker.FetchAuth
}

func isNotFoundError(err error) bool {
	var fe *broker.FetchError
	return errors.As(err, &fe) && fe.Kind == broker.FetchNotFound
}
