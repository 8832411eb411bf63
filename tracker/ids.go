package tracker

import (
	"encoding/base32"
	"strings"
	"time"

	"github.com/google/uuid"
)

var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newShortID 生成 12 位小写 base32 短 ID
func newShortID() string {
	u := uuid.New()
	return strings.ToLower(idEncoding.EncodeToString(u[:]))[:12]
}

// msTime truncates t to the millisecond precision kept by the store.
func msTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
