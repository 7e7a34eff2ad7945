package profile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
)

// ParseProtocol accepts "http" or "https". nil yields the default.
func ParseProtocol(v any) (Protocol, error) {
	if v == nil {
		return Protocol(constants.DefaultProtocol), nil
	}
	s, ok := v.(string)
	if !ok {
		return "", operatorerrors.NewValidationError("protocol", fmt.Sprint(v), "invalid protocol, expected http or https")
	}
	switch Protocol(strings.ToLower(s)) {
	case ProtocolHTTP:
		return ProtocolHTTP, nil
	case ProtocolHTTPS:
		return ProtocolHTTPS, nil
	default:
		return "", operatorerrors.NewValidationError("protocol", s, "invalid protocol, expected http or https")
	}
}

// ParseHost accepts any non-empty string. nil yields the default.
func ParseHost(v any) (string, error) {
	if v == nil {
		return constants.DefaultHost, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", operatorerrors.NewValidationError("host", fmt.Sprint(v), "invalid parameter, expected string")
	}
	if strings.TrimSpace(s) == "" {
		return "", operatorerrors.NewValidationError("host", s, "host must not be empty")
	}
	return s, nil
}

// ParsePort accepts an integer or a decimal string within 1–65534.
func ParsePort(v any) (int, error) {
	if v == nil {
		return constants.DefaultPort, nil
	}
	n, ok := toInteger(v)
	if !ok || n < constants.MinPort || n > constants.MaxPort {
		return 0, operatorerrors.NewValidationError("port", fmt.Sprint(v), "invalid port value")
	}
	return int(n), nil
}

// ParseTimeout accepts a positive integer or decimal string of seconds.
func ParseTimeout(v any) (int, error) {
	if v == nil {
		return constants.DefaultTimeoutSeconds, nil
	}
	n, ok := toInteger(v)
	if !ok || n <= 0 || n > math.MaxInt32 {
		return 0, operatorerrors.NewValidationError("timeout", fmt.Sprint(v), "timeout must be a positive integer")
	}
	return int(n), nil
}

// ParseBool accepts a bool or one of true/false/yes/no. nil yields def.
func ParseBool(field string, v any, def bool) (bool, error) {
	switch b := v.(type) {
	case nil:
		return def, nil
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true", "yes":
			return true, nil
		case "false", "no":
			return false, nil
		}
	}
	return false, operatorerrors.NewValidationError(field, fmt.Sprint(v), "invalid value, expected true, false, yes or no")
}

// toInteger is total over the input kinds catalogs produce. Strings must be
// plain decimal digits; floats must be integral.
func toInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, false
		}
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		for _, r := range n {
			if r < '0' || r > '9' {
				return 0, false
			}
		}
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
