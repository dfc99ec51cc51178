package router

import (
	"fmt"
	"net/netip"
	"unsafe"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"
)

// ProtocolNumber is EIGRP's IP protocol number (spec §6).
const ProtocolNumber = 88

// TOSInternetControl is the "internetwork-control" TOS/DSCP value spec
// §6 requires on every outbound packet.
const TOSInternetControl = 0xC0

// RawSocket wraps the instance's single raw IPv4 socket (spec §4.H
// "Owns: one raw IPv4 socket per instance with IP_HDRINCL"). Grounded on
// the same unix.Socket/IP_HDRINCL/IP_PKTINFO sequence used by the
// retrieval pack's uping listener for a comparable raw-IP protocol.
type RawSocket struct {
	fd int
}

// OpenRawSocket creates and configures the instance's raw socket: proto
// 88, IP_HDRINCL so the daemon supplies its own IP header, IP_PKTINFO so
// the arrival interface can be recovered, and a send buffer sized to at
// least sndBuf bytes (spec §4.C "set SO_SNDBUF >= MTU").
func OpenRawSocket(sndBuf int) (*RawSocket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, ProtocolNumber)
	if err != nil {
		return nil, fmt.Errorf("open raw socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt IP_HDRINCL: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_PKTINFO, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setsockopt IP_PKTINFO: %w", err)
	}
	if sndBuf > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, sndBuf); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("setsockopt SO_SNDBUF: %w", err)
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return &RawSocket{fd: fd}, nil
}

// Close releases the socket.
func (s *RawSocket) Close() error {
	return unix.Close(s.fd)
}

// FD exposes the raw descriptor for the event loop's poll set.
func (s *RawSocket) FD() int { return s.fd }

// JoinMulticast adds membership in group on the interface bound to
// localAddr (spec §6 "Multicast membership add/drop on interface-up/down").
func (s *RawSocket) JoinMulticast(group, localAddr netip.Addr) error {
	mreq := unix.IPMreq{}
	g := group.As4()
	l := localAddr.As4()
	copy(mreq.Multiaddr[:], g[:])
	copy(mreq.Interface[:], l[:])
	return unix.SetsockoptIPMreq(s.fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, &mreq)
}

// LeaveMulticast drops membership in group on localAddr.
func (s *RawSocket) LeaveMulticast(group, localAddr netip.Addr) error {
	mreq := unix.IPMreq{}
	g := group.As4()
	l := localAddr.As4()
	copy(mreq.Multiaddr[:], g[:])
	copy(mreq.Interface[:], l[:])
	return unix.SetsockoptIPMreq(s.fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, &mreq)
}

// BuildEnvelope wraps an EIGRP payload in the outer IPv4 header spec §6
// requires: TTL 1, TOS internetwork-control, protocol 88. Built via
// gopacket/layers the same way the retrieval pack's PIM implementation
// models its own raw-IP routing-protocol envelope.
func BuildEnvelope(src, dst netip.Addr, payload []byte) ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TOS:      TOSInternetControl,
		TTL:      1,
		Protocol: ProtocolNumber,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	payloadLayer := gopacket.Payload(payload)
	if err := gopacket.SerializeLayers(buf, opts, ip, payloadLayer); err != nil {
		return nil, fmt.Errorf("build IPv4 envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// SendTo transmits envelope (a complete IP packet, as built by
// BuildEnvelope) to dst.
func (s *RawSocket) SendTo(dst netip.Addr, envelope []byte) error {
	addr := dst.As4()
	sa := &unix.SockaddrInet4{Addr: addr}
	return unix.Sendto(s.fd, envelope, 0, sa)
}

// Received is one inbound datagram recovered from the socket, with the
// arrival interface index decoded from the IP_PKTINFO ancillary data.
type Received struct {
	Payload     []byte
	Src         netip.Addr
	Dst         netip.Addr
	ArrivalIfIndex int
}

// RecvMsg reads one datagram and its IP_PKTINFO control message, parses
// the outer IPv4 header with gopacket, and returns the EIGRP payload.
// Grounded on the retrieval pack's uping listener's Recvmsg/IP_PKTINFO
// sequence.
func (s *RawSocket) RecvMsg(buf, oob []byte) (*Received, error) {
	n, oobn, _, _, err := unix.Recvmsg(s.fd, buf, oob, 0)
	if err != nil {
		return nil, err
	}
	pkt := gopacket.NewPacket(buf[:n], layers.LayerTypeIPv4, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return nil, fmt.Errorf("recvmsg: not an IPv4 packet")
	}
	ip := ipLayer.(*layers.IPv4)

	r := &Received{Payload: ip.Payload}
	if src, ok := netip.AddrFromSlice(ip.SrcIP); ok {
		r.Src = src.Unmap()
	}
	if dst, ok := netip.AddrFromSlice(ip.DstIP); ok {
		r.Dst = dst.Unmap()
	}
	r.ArrivalIfIndex = parsePktInfoIfIndex(oob[:oobn])
	return r, nil
}

func parsePktInfoIfIndex(oob []byte) int {
	if len(oob) == 0 {
		return 0
	}
	cms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0
	}
	for _, cm := range cms {
		if cm.Header.Level == unix.IPPROTO_IP && cm.Header.Type == unix.IP_PKTINFO && len(cm.Data) >= unix.SizeofInet4Pktinfo {
			var pi unix.Inet4Pktinfo
			copy((*[unix.SizeofInet4Pktinfo]byte)(unsafe.Pointer(&pi))[:], cm.Data[:unix.SizeofInet4Pktinfo])
			return int(pi.Ifindex)
		}
	}
	return 0
}
