package automation

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/PelicanWorks/mountkeeper/internal/models"
)

const (
	// defaultWOLPort is the conventional Wake-on-LAN discard port.
	defaultWOLPort = 9
	// defaultBroadcast is used when no broadcast address is configured.
	defaultBroadcast = "255.255.255.255"
)

// BuildMagicPacket constructs a Wake-on-LAN magic packet: six 0xFF bytes
// followed by sixteen repetitions of the six-byte hardware address.
func BuildMagicPacket(mac string) ([]byte, error) {
	hw, err := parseMAC(mac)
	if err != nil {
		return nil, err
	}

	packet := make([]byte, 0, 6+16*6)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// parseMAC parses a colon- or dash-separated hardware address and
// requires exactly six octets.
func parseMAC(mac string) ([]byte, error) {
	cleaned := strings.ReplaceAll(mac, "-", ":")
	parts := strings.Split(cleaned, ":")
	if len(parts) != 6 {
		return nil, fmt.Errorf("invalid MAC address %q: expected 6 octets, got %d", mac, len(parts))
	}

	hw := make([]byte, 6)
	for i, part := range parts {
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid MAC address %q: octet %d: %w", mac, i, err)
		}
		hw[i] = byte(b)
	}
	return hw, nil
}

// wolAddr builds the destination address for a Wake-on-LAN task, applying
// defaults for broadcast address and port.
func wolAddr(task *models.AutomationConfig) string {
	broadcast := task.BroadcastAddress
	if broadcast == "" {
		broadcast = defaultBroadcast
	}
	port := task.Port
	if port == 0 {
		port = defaultWOLPort
	}
	return net.JoinHostPort(broadcast, strconv.Itoa(port))
}

// udpSender sends datagrams over plain UDP.
type udpSender struct{}

func (udpSender) SendDatagram(ctx context.Context, addr string, payload []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}
