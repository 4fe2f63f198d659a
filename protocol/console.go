package protocol

import (
	"bytes"
	"strings"
)

const (
	// BannerPrefix must start the first line a console sends.
	BannerPrefix = "Android Console:"

	// Banner is what our core console sends on connect.
	Banner = BannerPrefix + " type 'help' for a list of commands\r\n"

	// SwitchVerb introduces a stream switch command.
	SwitchVerb = "qemu"

	// BaseConsolePort is the console port of the first core instance.
	BaseConsolePort = 5554

	// MaxCoreProcs is the number of core instances that can share a host.
	MaxCoreProcs = 16
)

var (
	PrefixOk = []byte("OK")
	PrefixKo = []byte("KO")

	OkTerminal = []byte("OK\r\n")
	Terminal   = []byte("\r\n")
)

// ConsolePort returns the console port of the given core instance. Ports go
// up in steps of two, the odd port above each is left to the companion bridge.
func ConsolePort(instance int) int {
	return BaseConsolePort + 2*instance
}

// BridgePort is the port conventionally used by the bridge that accompanies
// the console listening on consolePort.
func BridgePort(consolePort int) int {
	return consolePort + 1
}

// SwitchCommand returns the line that switches a console socket to stream.
func SwitchCommand(stream string) []byte {
	return []byte(SwitchVerb + " " + stream + "\r\n")
}

// ParseSwitch splits a `qemu <stream> [args...]` line. It returns ok=false
// for any other line.
func ParseSwitch(line string) (stream string, args []string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != SwitchVerb {
		return "", nil, false
	}

	return fields[1], fields[2:], true
}

// IsReplyOk reports whether a console reply line starts with OK.
func IsReplyOk(reply []byte) bool {
	return bytes.HasPrefix(reply, PrefixOk)
}

// IsReplyKo reports whether a console reply line starts with KO.
func IsReplyKo(reply []byte) bool {
	return bytes.HasPrefix(reply, PrefixKo)
}

// ReplyPayload returns whatever follows `OK ` or `KO ` in a reply line.
func ReplyPayload(reply []byte) string {
	if len(reply) <= 3 {
		return ""
	}
	return string(reply[3:])
}

// OkReply formats `OK[ payload]\r\n`.
func OkReply(payload string) []byte {
	if payload == "" {
		return append([]byte(nil), OkTerminal...)
	}
	return []byte("OK " + payload + "\r\n")
}

// KoReply formats `KO message\r\n`.
func KoReply(message string) []byte {
	return []byte("KO " + message + "\r\n")
}

// HandshakeValue finds the value of a `key=value` token in a space separated
// handshake string.
func HandshakeValue(handshake, key string) (string, bool) {
	prefix := key + "="
	for _, token := range strings.Fields(handshake) {
		if strings.HasPrefix(token, prefix) {
			return token[len(prefix):], true
		}
	}
	return "", false
}

// RemoveTrailingCRLF strips a trailing `\n` and then an optional `\r`.
func RemoveTrailingCRLF(data []byte) []byte {
	if n := len(data); n > 0 && data[n-1] == '\n' {
		data = data[:n-1]
	}
	if n := len(data); n > 0 && data[n-1] == '\r' {
		data = data[:n-1]
	}
	return data
}
