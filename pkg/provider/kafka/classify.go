package kafka

import (
	"context"
	"errors"
	"net"

	"github.com/IBM/sarama"

	"github.com/strataio/strata/pkg/strataerrors"
)

// classify maps a sarama error into the normalized taxonomy using the Kafka
// protocol error code. Unrecognized errors stay PROVIDER with the original
// error retained as cause.
func classify(err error, msg string) *strataerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return strataerrors.Wrap(err, strataerrors.KindTimeout, msg)
	}
	if errors.Is(err, sarama.ErrOutOfBrokers) || errors.Is(err, sarama.ErrClosedClient) {
		return strataerrors.Wrap(err, strataerrors.KindConnection, msg)
	}

	var kerr sarama.KError
	if errors.As(err, &kerr) {
		return strataerrors.Wrap(err, kindForKError(kerr), msg).
			WithDetail("kafka_code", kerr.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return strataerrors.Wrap(err, strataerrors.KindTimeout, msg)
		}
		return strataerrors.Wrap(err, strataerrors.KindConnection, msg)
	}

	return strataerrors.Wrap(err, strataerrors.KindProvider, msg)
}

func kindForKError(kerr sarama.KError) strataerrors.Kind {
	switch kerr {
	case sarama.ErrUnknownTopicOrPartition:
		return strataerrors.KindNotFound
	case sarama.ErrRequestTimedOut:
		return strataerrors.KindTimeout
	case sarama.ErrNetworkException,
		sarama.ErrNotLeaderForPartition,
		sarama.ErrLeaderNotAvailable,
		sarama.ErrBrokerNotAvailable,
		sarama.ErrSASLAuthenticationFailed,
		sarama.ErrTopicAuthorizationFailed,
		sarama.ErrClusterAuthorizationFailed:
		return strataerrors.KindConnection
	case sarama.ErrInvalidMessage,
		sarama.ErrMessageSizeTooLarge,
		sarama.ErrInvalidMessageSize,
		sarama.ErrInvalidRequiredAcks:
		return strataerrors.KindInvalidInput
	default:
		return strataerrors.KindProvider
	}
}
