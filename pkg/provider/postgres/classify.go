package postgres

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/strataio/strata/pkg/strataerrors"
)

// classify maps a pgx/pgconn error into the normalized taxonomy. SQLSTATE
// classes drive most of the mapping; anything unrecognized stays PROVIDER
// with the original error retained as cause.
func classify(err error, msg string) *strataerrors.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return strataerrors.Wrap(err, strataerrors.KindTimeout, msg)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strataerrors.Wrap(err, kindForSQLState(pgErr.Code), msg).
			WithDetail("sqlstate", pgErr.Code)
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

func kindForSQLState(code string) strataerrors.Kind {
	switch code {
	case "42P01", // undefined_table
		"3D000", // invalid_catalog_name
		"3F000", // invalid_schema_name
		"42703": // undefined_column
		return strataerrors.KindNotFound
	case "57014": // query_canceled (statement_timeout)
		return strataerrors.KindTimeout
	}

	switch {
	case strings.HasPrefix(code, "08"): // connection exception
		return strataerrors.KindConnection
	case strings.HasPrefix(code, "28"): // invalid authorization
		return strataerrors.KindConnection
	case strings.HasPrefix(code, "22"), // data exception
		strings.HasPrefix(code, "23"), // integrity constraint violation
		strings.HasPrefix(code, "42"): // syntax error or access rule violation
		return strataerrors.KindInvalidInput
	}

	return strataerrors.KindProvider
}
