package routing

import (
	"fmt"
	"strconv"
	"strings"
)

// ChannelNumber parses the numeric suffix of a channel id ("ip0" -> 0,
// "ip12" -> 12), per §6 "Port computation".
func ChannelNumber(channelID string) (int, error) {
	n := strings.TrimPrefix(channelID, "ip")
	if n == channelID {
		return 0, fmt.Errorf("routing: channel id %q does not have the ip{N} form", channelID)
	}
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, fmt.Errorf("routing: channel id %q has a non-numeric suffix: %w", channelID, err)
	}
	return v, nil
}

// Port computes the UDP port a place binds to / is reached at:
// port = 10000 + channelNumber*1000 + basePort (§4.2 "Socket binding",
// §6 "Port computation").
func Port(channelID string, basePort int) (int, error) {
	n, err := ChannelNumber(channelID)
	if err != nil {
		return 0, err
	}
	return 10000 + n*1000 + basePort, nil
}
