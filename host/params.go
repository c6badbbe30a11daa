package host

import (
	"fmt"
)

// Parameter accessors for JSON-decoded params. JSON numbers decode as
// float64, so integer parameters are range-checked floats.

func floatParam(params Params, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	value, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be a number, got %T", key, raw)
	}
	return value, nil
}

func floatParamDefault(params Params, key string, fallback float64) (float64, error) {
	if _, ok := params[key]; !ok {
		return fallback, nil
	}
	return floatParam(params, key)
}

func intParam(params Params, key string) (int, error) {
	value, err := floatParam(params, key)
	if err != nil {
		return 0, err
	}
	if value != float64(int(value)) {
		return 0, fmt.Errorf("parameter %q must be an integer, got %v", key, value)
	}
	return int(value), nil
}

func intParamDefault(params Params, key string, fallback int) (int, error) {
	if _, ok := params[key]; !ok {
		return fallback, nil
	}
	return intParam(params, key)
}

func stringParam(params Params, key string) (string, error) {
	raw, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, raw)
	}
	return value, nil
}

func stringParamDefault(params Params, key, fallback string) (string, error) {
	if _, ok := params[key]; !ok {
		return fallback, nil
	}
	return stringParam(params, key)
}

func clamp(value, low, high float64) float64 {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
