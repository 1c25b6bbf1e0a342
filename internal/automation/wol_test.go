package automation

import (
	"bytes"
	"testing"

	"github.com/PelicanWorks/mountkeeper/internal/models"
)

func TestBuildMagicPacket(t *testing.T) {
	packet, err := BuildMagicPacket("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}

	if len(packet) != 102 {
		t.Fatalf("packet length mismatch: got %d, want 102", len(packet))
	}

	header := bytes.Repeat([]byte{0xFF}, 6)
	if !bytes.Equal(packet[:6], header) {
		t.Errorf("header mismatch: %x", packet[:6])
	}

	mac := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for i := 0; i < 16; i++ {
		start := 6 + i*6
		if !bytes.Equal(packet[start:start+6], mac) {
			t.Fatalf("repetition %d mismatch: %x", i, packet[start:start+6])
		}
	}
}

func TestBuildMagicPacketDashSeparator(t *testing.T) {
	packet, err := BuildMagicPacket("AA-BB-CC-DD-EE-FF")
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	if packet[6] != 0xAA || packet[11] != 0xFF {
		t.Errorf("MAC bytes mismatch: %x", packet[6:12])
	}
}

func TestBuildMagicPacketInvalid(t *testing.T) {
	invalid := []string{
		"",
		"aa:bb:cc:dd:ee",
		"aa:bb:cc:dd:ee:ff:00",
		"aa:bb:cc:dd:ee:zz",
	}
	for _, mac := range invalid {
		if _, err := BuildMagicPacket(mac); err == nil {
			t.Errorf("expected error for %q", mac)
		}
	}
}

func TestWOLAddrDefaults(t *testing.T) {
	task := &models.AutomationConfig{}
	if got := wolAddr(task); got != "255.255.255.255:9" {
		t.Errorf("default address mismatch: got %s", got)
	}

	task = &models.AutomationConfig{BroadcastAddress: "10.0.0.255", Port: 7}
	if got := wolAddr(task); got != "10.0.0.255:7" {
		t.Errorf("address mismatch: got %s", got)
	}
}
