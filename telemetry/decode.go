// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	apperrors "github.com/soothill/hvac-supervisor/pkg/errors"
	"github.com/soothill/hvac-supervisor/pkg/logger"
	"github.com/soothill/hvac-supervisor/pkg/metrics"
)

// DecodeLatest decodes a latest-reading payload. An object is used as is; an
// array is accepted when its first element is an object.
func DecodeLatest(source string, data []byte) (map[string]any, error) {
	v, err := decodeValue(data)
	if err != nil {
		return nil, apperrors.NewParseError(source, err)
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		if len(t) == 0 {
			return nil, apperrors.NewParseError(source, apperrors.ErrNoData)
		}
		if obj, ok := t[0].(map[string]any); ok {
			return obj, nil
		}
		return nil, apperrors.NewParseError(source, fmt.Errorf("first element is %s, want object", jsonKind(t[0])))
	}
	return nil, apperrors.NewParseError(source, fmt.Errorf("payload is %s, want object", jsonKind(v)))
}

// DecodeHistory decodes a history payload, which must be an array. Elements
// that are not objects are dropped; null decodes as an empty series.
func DecodeHistory(source string, data []byte) ([]map[string]any, error) {
	v, err := decodeValue(data)
	if err != nil {
		return nil, apperrors.NewParseError(source, err)
	}
	if v == nil {
		return []map[string]any{}, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, apperrors.NewParseError(source, fmt.Errorf("payload is %s, want array", jsonKind(v)))
	}
	rows := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			logger.Warn().Str("source", source).Int("index", i).Str("kind", jsonKind(item)).
				Msg("Dropping history element that is not an object")
			metrics.HistoryRecordsDropped.Inc()
			continue
		}
		rows = append(rows, obj)
	}
	return rows, nil
}

// DecodeObject decodes a payload that must be a single JSON object.
func DecodeObject(source string, data []byte) (map[string]any, error) {
	v, err := decodeValue(data)
	if err != nil {
		return nil, apperrors.NewParseError(source, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, apperrors.NewParseError(source, fmt.Errorf("payload is %s, want object", jsonKind(v)))
	}
	return obj, nil
}

// decodeValue keeps numbers as json.Number so ids and counters survive intact.
func decodeValue(data []byte) (any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
