package session

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	idSuffixLen = 9
	// 36^9, the number of distinct 9 character base-36 suffixes
	idSuffixSpace int64 = 101559956668416
)

// NewChatID returns a process-unique session identifier
func NewChatID() string {
	return newID("chat", time.Now())
}

// NewMessageID returns a process-unique message identifier
func NewMessageID() string {
	return newID("msg", time.Now())
}

func newID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d-%s", prefix, Millis(now), randomSuffix())
}

func randomSuffix() string {
	s := strconv.FormatInt(rand.Int64N(idSuffixSpace), 36)
	if len(s) < idSuffixLen {
		s = strings.Repeat("0", idSuffixLen-len(s)) + s
	}
	return s
}
