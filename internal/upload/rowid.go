package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RowIDGenerator returns identifiers for rows added to a form.
type RowIDGenerator func() string

// TimestampRowIDs generates row_<unix-millis> identifiers. A call in the same
// millisecond as the previous one gets the next millisecond, so identifiers
// from one generator never repeat.
func TimestampRowIDs() RowIDGenerator {
	return timestampRowIDs(time.Now)
}

func timestampRowIDs(now func() time.Time) RowIDGenerator {
	var (
		mu   sync.Mutex
		last int64
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()

		ms := now().UnixMilli()
		if ms <= last {
			ms = last + 1
		}
		last = ms
		return fmt.Sprintf("row_%d", ms)
	}
}

// RandomRowIDs generates row_<uuid> identifiers.
func RandomRowIDs() RowIDGenerator {
	return func() string {
		return "row_" + uuid.New().String()
	}
}
