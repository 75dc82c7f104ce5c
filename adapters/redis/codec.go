package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrPointerPayload 表示payload不能是指標，stream上的訊息必須是值
	ErrPointerPayload = errors.New("payload must not be a pointer")
)

// stream訊息的編碼格式：msgpack序列化後以base64放進單一payload欄位
// dead-letter在旁邊附上error欄位說明失敗原因，payload本身保持原樣以便重放

func encodeStreamEntry[T any](data T) (map[string]any, error) {
	if kind := reflect.TypeOf(data); kind != nil && kind.Kind() == reflect.Ptr {
		return nil, ErrPointerPayload
	}
	raw, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return map[string]any{
		"payload": base64.StdEncoding.EncodeToString(raw),
	}, nil
}

func decodeStreamEntry[T any](values map[string]any) (T, error) {
	var result T
	if kind := reflect.TypeOf(result); kind != nil && kind.Kind() == reflect.Ptr {
		return result, ErrPointerPayload
	}
	if len(values) == 0 {
		return result, nil
	}
	encoded, ok := values["payload"].(string)
	if !ok {
		return result, errors.New("payload field not found or not a string")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}
