package store

import (
	"fmt"
	"strconv"
)

// Int64s decodes a script reply made of integers, such as {allowed, count}.
func Int64s(reply any, want int) ([]int64, error) {
	values, ok := reply.([]any)
	if !ok || len(values) != want {
		return nil, &Error{
			Op:   "decode",
			Kind: ErrCommand,
			Err:  fmt.Errorf("unexpected script reply %T (%v), want %d integers", reply, reply, want),
		}
	}

	out := make([]int64, want)

	for i, v := range values {
		n, err := toInt64(v)
		if err != nil {
			return nil, &Error{Op: "decode", Kind: ErrCommand, Err: err}
		}

		out[i] = n
	}

	return out, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value %T", v)
	}
}
