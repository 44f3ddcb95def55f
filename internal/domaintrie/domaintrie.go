// Package domaintrie assigns administrative domain IDs to IP addresses
// by longest-prefix match against a configured list of networks.
package domaintrie

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/gaissmai/bart"
)

// Unknown is returned by Lookup for any address that matches no
// configured prefix.
const Unknown uint16 = 0xFFFF

// warner is the narrow logging interface domaintrie needs; *logger.Logger
// satisfies it without domaintrie importing the logger package directly.
type warner interface {
	Warn(msg string, fields ...interface{})
}

type nopWarner struct{}

func (nopWarner) Warn(string, ...interface{}) {}

// Trie performs longest-prefix-match domain lookups. The zero value is
// not usable; construct with New.
type Trie struct {
	tbl      bart.Table[uint16]
	warner   warner
	maxNetID int
}

// New returns an empty Trie that logs prefix corrections to log.
func New(log warner) *Trie {
	if log == nil {
		log = nopWarner{}
	}
	return &Trie{warner: log}
}

// Parse adds one "ip/mask[/netid]" line to the trie. When explicitNetID
// is >= 0 it is used instead of requiring a third field on the line;
// cmd/pnaflowd passes a running sequential id this way for inline
// config entries without a netid. Build always passes -1, so every
// networks-file line must carry its own netid.
func (t *Trie) Parse(line string, explicitNetID int) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("domaintrie: empty line")
	}

	fields := strings.Split(line, "/")
	if len(fields) < 2 {
		return fmt.Errorf("domaintrie: bad prefix line %q", line)
	}

	netID := explicitNetID
	if netID < 0 {
		if len(fields) < 3 {
			return fmt.Errorf("domaintrie: missing netid in %q", line)
		}
		n, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return fmt.Errorf("domaintrie: bad netid in %q: %w", line, err)
		}
		netID = n
	}
	if netID <= 0 || netID >= int(Unknown) {
		return fmt.Errorf("domaintrie: netid %d out of range in %q", netID, line)
	}

	mask, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return fmt.Errorf("domaintrie: bad mask in %q: %w", line, err)
	}
	if mask <= 0 || mask > 32 {
		return fmt.Errorf("domaintrie: invalid mask %d in %q", mask, line)
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(fields[0]))
	if err != nil || !addr.Is4() {
		return fmt.Errorf("domaintrie: bad address in %q", line)
	}

	pfx := netip.PrefixFrom(addr, mask)
	masked := pfx.Masked()
	if masked.Addr() != addr {
		t.warner.Warn("domaintrie: prefix corrected to its network address",
			"original", pfx.String(), "corrected", masked.String(), "domain", netID)
	}

	t.tbl.Insert(masked, uint16(netID))
	if netID > t.maxNetID {
		t.maxNetID = netID
	}
	return nil
}

// MaxNetID returns the highest netid assigned so far, or 0 if none.
// Callers mixing a networks file with inline CLI fragments use this to
// continue sequential netid assignment across both sources.
func (t *Trie) MaxNetID() int {
	return t.maxNetID
}

// Build loads a networks file, one "ip/mask/netid" per line. Blank
// lines and lines starting with '#' or a space are skipped.
func (t *Trie) Build(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("domaintrie: open networks file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		switch line[0] {
		case '#', ' ':
			continue
		}
		if err := t.Parse(line, -1); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Lookup returns the domain assigned to ip (in host byte order), or
// Unknown if no configured prefix covers it.
func (t *Trie) Lookup(ip uint32) uint16 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	v, ok := t.tbl.Lookup(netip.AddrFrom4(b))
	if !ok {
		return Unknown
	}
	return v
}
