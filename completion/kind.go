package completion

import (
	"fmt"
	"regexp"
)

// Kind determines which delivered messages count toward completion.
type Kind int

const (
	// OneShot batches expect exactly one response per request; every
	// delivery counts.
	OneShot Kind = iota + 1
	// Streaming batches expect one subscription acknowledgement per
	// session; later stream updates do not count.
	Streaming
)

func (k Kind) String() string {
	switch k {
	case OneShot:
		return "one_shot"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// SubscriptionIDLen is the length of a subscription id including its 0x prefix.
const SubscriptionIDLen = 18

var subscriptionAck = regexp.MustCompile(
	fmt.Sprintf(`^\{"jsonrpc":"2\.0","result":"0[xX][a-fA-F0-9]{%d}","id":[0-9]+\}$`, SubscriptionIDLen-2),
)

// Qualifies reports whether payload counts toward completion of a batch of
// the given kind.
func Qualifies(kind Kind, payload []byte) bool {
	switch kind {
	case OneShot:
		return true
	case Streaming:
		return subscriptionAck.Match(payload)
	}
	return false
}
