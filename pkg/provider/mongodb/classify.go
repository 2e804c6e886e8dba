package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/strataio/strata/pkg/strataerrors"
)

// Server error codes worth distinguishing; see the MongoDB error code table.
const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeNamespaceNotFound    = 26
	codeMaxTimeMSExpired     = 50
)

// classify maps a mongo-driver error into the normalized taxonomy.
// Unrecognized errors stay PROVIDER with the original error retained as
// cause.
func classify(err error, msg string) *strataerrors.Error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), mongo.IsTimeout(err):
		return strataerrors.Wrap(err, strataerrors.KindTimeout, msg)
	case errors.Is(err, mongo.ErrNoDocuments):
		return strataerrors.Wrap(err, strataerrors.KindNotFound, msg)
	case mongo.IsDuplicateKeyError(err):
		return strataerrors.Wrap(err, strataerrors.KindInvalidInput, msg)
	case mongo.IsNetworkError(err):
		return strataerrors.Wrap(err, strataerrors.KindConnection, msg)
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case codeNamespaceNotFound:
			return strataerrors.Wrap(err, strataerrors.KindNotFound, msg)
		case codeUnauthorized, codeAuthenticationFailed:
			return strataerrors.Wrap(err, strataerrors.KindConnection, msg)
		case codeMaxTimeMSExpired:
			return strataerrors.Wrap(err, strataerrors.KindTimeout, msg)
		}
	}

	return strataerrors.Wrap(err, strataerrors.KindProvider, msg)
}
