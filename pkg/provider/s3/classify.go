package s3

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"

	"github.com/strataio/strata/pkg/strataerrors"
)

// classify maps an AWS SDK error into the normalized taxonomy using the
// service error code. Unrecognized codes stay PROVIDER with the original
// error retained as cause.
func classify(err error, msg string) *strataerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return strataerrors.Wrap(err, strataerrors.KindTimeout, msg)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return strataerrors.Wrap(err, kindForCode(apiErr.ErrorCode()), msg).
			WithDetail("code", apiErr.ErrorCode())
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

func kindForCode(code string) strataerrors.Kind {
	switch code {
	case "NoSuchKey", "NoSuchBucket", "NotFound", "404":
		return strataerrors.KindNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "TokenRefreshRequired", "Forbidden", "403":
		return strataerrors.KindConnection
	case "InvalidArgument", "InvalidRequest", "MalformedXML",
		"InvalidBucketName", "KeyTooLongError", "MetadataTooLarge",
		"EntityTooLarge":
		return strataerrors.KindInvalidInput
	case "RequestTimeout", "RequestTimeoutException":
		return strataerrors.KindTimeout
	default:
		return strataerrors.KindProvider
	}
}
